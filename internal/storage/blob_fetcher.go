package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	apperrors "github.com/skinsight/skinsight-api/internal/errors"
)

// BlobFetcher fetches image bytes directly from Azure Blob Storage with
// shared-key credentials, bypassing the public HTTP path.
type BlobFetcher struct {
	client   *azblob.Client
	maxBytes int64
}

func NewBlobFetcher(accountName, accountKey string, maxBytes int64) (*BlobFetcher, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid shared key credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}

	return &BlobFetcher{client: client, maxBytes: maxBytes}, nil
}

func (b *BlobFetcher) Fetch(ctx context.Context, blobURL string) ([]byte, error) {
	containerName, blobName, err := splitBlobPath(blobURL)
	if err != nil {
		return nil, apperrors.NewAcquisitionError("invalid blob URL", err)
	}

	resp, err := b.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, apperrors.NewAcquisitionError("blob download failed", err)
	}
	defer resp.Body.Close()

	return readCapped(resp.Body, b.maxBytes)
}

func splitBlobPath(blobURL string) (container, blob string, err error) {
	parsed, err := url.Parse(blobURL)
	if err != nil {
		return "", "", err
	}
	path := strings.TrimPrefix(parsed.Path, "/")
	container, blob, ok := strings.Cut(path, "/")
	if !ok || container == "" || blob == "" {
		return "", "", fmt.Errorf("blob URL path must be /container/blob, got %q", parsed.Path)
	}
	return container, blob, nil
}

// IsBlobURL reports whether the URL addresses an Azure Blob Storage endpoint.
func IsBlobURL(imageURL string) bool {
	parsed, err := url.Parse(imageURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(parsed.Hostname(), ".blob.core.windows.net")
}

// Resolver routes a fetch to the blob fetcher for blob-storage URLs and to
// the HTTP fetcher for everything else. The blob fetcher is optional.
type Resolver struct {
	HTTP ImageFetcher
	Blob ImageFetcher
}

func (r *Resolver) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	if r.Blob != nil && IsBlobURL(imageURL) {
		return r.Blob.Fetch(ctx, imageURL)
	}
	return r.HTTP.Fetch(ctx, imageURL)
}
