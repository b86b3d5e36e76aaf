package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/skinsight/skinsight-api/internal/classifier"
	apperrors "github.com/skinsight/skinsight-api/internal/errors"
	"github.com/skinsight/skinsight-api/internal/knowledge"
	"github.com/skinsight/skinsight-api/internal/logger"
	"github.com/skinsight/skinsight-api/internal/store"
)

// Fetcher acquires raw image bytes for an image reference.
type Fetcher interface {
	Fetch(ctx context.Context, imageURL string) ([]byte, error)
}

// Retriever resolves a condition label to supporting reference chunks.
type Retriever interface {
	Retrieve(ctx context.Context, label string, k int) ([]knowledge.Chunk, error)
}

// Generator turns a label and retrieved passages into free-text advice.
type Generator interface {
	Generate(ctx context.Context, label string, passages []string) (string, error)
}

// Results is the slice of the session store the pipeline writes through.
type Results interface {
	UpsertResult(sessionID string, result store.SessionResult) error
}

// Pipeline sequences one classification run:
// acquire -> classify -> retrieve -> generate -> persist.
//
// Acquisition and classification failures abort the run and nothing is
// persisted. Retrieval and generation failures degrade the run to a
// classification-only result. Stages run strictly in order, each one
// exactly once; concurrent runs for different sessions are independent.
type Pipeline struct {
	fetcher    Fetcher
	classifier classifier.Classifier
	retriever  Retriever // nil when the knowledge index is unavailable
	generator  Generator
	results    Results

	imageSize  int
	retrievalK int
}

type Params struct {
	Fetcher    Fetcher
	Classifier classifier.Classifier
	Retriever  Retriever
	Generator  Generator
	Results    Results
	ImageSize  int
	RetrievalK int
}

func New(p Params) *Pipeline {
	return &Pipeline{
		fetcher:    p.Fetcher,
		classifier: p.Classifier,
		retriever:  p.Retriever,
		generator:  p.Generator,
		results:    p.Results,
		imageSize:  p.ImageSize,
		retrievalK: p.RetrievalK,
	}
}

// Run executes one synchronous classification run for a session and returns
// the persisted result. The caller blocks until the run is done or failed;
// errors are *apperrors.AppError values naming the failed stage.
func (p *Pipeline) Run(ctx context.Context, sessionID, imageURL string) (store.SessionResult, error) {
	start := time.Now()
	log := logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"image_url":  imageURL,
	})

	// Acquiring
	raw, err := p.fetcher.Fetch(ctx, imageURL)
	if err != nil {
		return store.SessionResult{}, asStageError(err,
			apperrors.NewAcquisitionError("failed to acquire image", err))
	}

	tensor, err := classifier.Preprocess(raw, p.imageSize)
	if err != nil {
		return store.SessionResult{}, apperrors.NewAcquisitionError("failed to decode image", err)
	}

	// Classifying
	classification, err := p.classifier.Classify(ctx, tensor)
	if err != nil {
		return store.SessionResult{}, apperrors.NewClassificationError(
			"model failed to classify the image", err)
	}
	log = log.WithFields(logrus.Fields{
		"label":      classification.Label,
		"confidence": classification.Confidence,
	})

	// Retrieving and Generating degrade to a classification-only result.
	recommendation := p.recommend(ctx, log, classification.Label)

	// Persisting
	result := store.SessionResult{
		AcneType:       classification.Label,
		Confidence:     classification.Confidence,
		Recommendation: recommendation,
		ClassifiedAt:   time.Now().UTC(),
	}
	if err := p.results.UpsertResult(sessionID, result); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return store.SessionResult{}, apperrors.NewNotFoundError("session not found", err)
		}
		return store.SessionResult{}, apperrors.NewPersistenceError(
			"failed to persist classification result", err)
	}

	log.WithField("duration_ms", time.Since(start).Milliseconds()).
		Info("Classification run completed")
	return result, nil
}

// recommend runs the retrieval and generation stages. Any failure here is
// recovered locally: the run proceeds with an empty recommendation, since a
// bare classification is still worth persisting.
func (p *Pipeline) recommend(ctx context.Context, log *logrus.Entry, label string) string {
	if p.retriever == nil {
		log.Warn("Knowledge index unavailable, persisting classification only")
		return ""
	}

	chunks, err := p.retriever.Retrieve(ctx, label, p.retrievalK)
	if err != nil {
		log.WithError(err).Warn("Retrieval failed, persisting classification only")
		return ""
	}

	passages := lo.Map(chunks, func(c knowledge.Chunk, _ int) string {
		return c.Text
	})

	text, err := p.generator.Generate(ctx, label, passages)
	if err != nil {
		log.WithError(err).Warn("Generation failed, persisting classification only")
		return ""
	}
	return text
}

// asStageError keeps already-classified errors intact and wraps everything
// else with the given fallback.
func asStageError(err error, fallback *apperrors.AppError) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return fallback
}
