package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Stage identifies where in the pipeline an error originated.
type Stage string

const (
	StageValidation     Stage = "validation"
	StageAcquisition    Stage = "acquisition"
	StageClassification Stage = "classification"
	StageRetrieval      Stage = "retrieval"
	StageGeneration     Stage = "generation"
	StagePersistence    Stage = "persistence"
)

// AppError is a structured application error carrying the originating
// pipeline stage, an HTTP status for the transport layer, and the cause.
type AppError struct {
	Stage      Stage  `json:"stage"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	Cause      error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewValidationError reports a malformed or incomplete request.
func NewValidationError(message string, cause error) *AppError {
	return &AppError{
		Stage:      StageValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Cause:      cause,
	}
}

// NewAcquisitionError reports a failed image fetch or decode. Fatal to the run.
func NewAcquisitionError(message string, cause error) *AppError {
	return &AppError{
		Stage:      StageAcquisition,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewPayloadTooLargeError reports an image exceeding the configured byte cap.
func NewPayloadTooLargeError(message string, cause error) *AppError {
	return &AppError{
		Stage:      StageAcquisition,
		Message:    message,
		StatusCode: http.StatusRequestEntityTooLarge,
		Cause:      cause,
	}
}

// NewClassificationError reports a model invocation failure. Fatal to the run.
func NewClassificationError(message string, cause error) *AppError {
	return &AppError{
		Stage:      StageClassification,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewRetrievalError reports an unavailable knowledge index. The pipeline
// recovers from it locally, so it never reaches the transport layer.
func NewRetrievalError(message string, cause error) *AppError {
	return &AppError{
		Stage:      StageRetrieval,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

// NewGenerationError reports a failed advice-generation call. Recovered locally.
func NewGenerationError(message string, cause error) *AppError {
	return &AppError{
		Stage:      StageGeneration,
		Message:    message,
		StatusCode: http.StatusServiceUnavailable,
		Cause:      cause,
	}
}

// NewPersistenceError reports a result-store write failure.
func NewPersistenceError(message string, cause error) *AppError {
	return &AppError{
		Stage:      StagePersistence,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewNotFoundError reports a missing session or image.
func NewNotFoundError(message string, cause error) *AppError {
	return &AppError{
		Stage:      StagePersistence,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Cause:      cause,
	}
}

// StageOf returns the stage an error originated from, or an empty Stage
// for errors that did not come out of the pipeline.
func StageOf(err error) Stage {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Stage
	}
	return ""
}

// IsStage checks whether the error originated from the given stage.
func IsStage(err error, stage Stage) bool {
	return StageOf(err) == stage
}

// GetStatusCode extracts the HTTP status code from an error.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
