package storage

import "context"

// ImageFetcher retrieves raw image bytes for an image reference.
// Implementations enforce the configured payload cap while reading.
type ImageFetcher interface {
	Fetch(ctx context.Context, imageURL string) ([]byte, error)
}
