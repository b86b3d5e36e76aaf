package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/skinsight/skinsight-api/internal/errors"
)

// HTTPFetcher fetches image bytes over plain HTTP(S).
//
// One attempt per call: the pipeline contract is a single acquisition
// attempt per run, so no retry loop lives here.
type HTTPFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewHTTPFetcher(maxBytes int64, timeout time.Duration) *HTTPFetcher {
	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,
	}

	return &HTTPFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		maxBytes: maxBytes,
	}
}

func (h *HTTPFetcher) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, apperrors.NewAcquisitionError("invalid image URL", err)
	}
	req.Header.Set("Accept", "image/jpeg, image/png, image/webp, */*")
	req.Header.Set("User-Agent", "Skinsight-API/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, apperrors.NewAcquisitionError("failed to download image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.NewAcquisitionError(
			fmt.Sprintf("failed to download image: status code %d", resp.StatusCode), nil)
	}

	return readCapped(resp.Body, h.maxBytes)
}

// readCapped reads at most maxBytes from r, failing once the cap is crossed
// rather than buffering an oversized payload in full.
func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, apperrors.NewAcquisitionError("failed to read image body", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, apperrors.NewPayloadTooLargeError(
			fmt.Sprintf("image exceeds %d byte limit", maxBytes), nil)
	}
	return data, nil
}
