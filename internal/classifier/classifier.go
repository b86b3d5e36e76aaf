package classifier

import "context"

// Result is a single classification: the predicted condition label and the
// model's probability for it.
type Result struct {
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Classifier maps a preprocessed image tensor to a condition label.
// Implementations are safe for concurrent use.
type Classifier interface {
	Classify(ctx context.Context, t *Tensor) (Result, error)
	Labels() []string
}
