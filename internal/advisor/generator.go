package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/skinsight/skinsight-api/internal/errors"
)

const instructionTemplate = "Using only the reference material above, give practical " +
	"product and self-care recommendations for someone whose skin shows signs of %s. " +
	"Keep the advice short, concrete, and non-diagnostic."

// Client calls an Ollama-compatible text-generation endpoint to turn
// retrieved reference passages into free-text advice.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewClient(baseURL, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate builds one prompt from the passages (in retrieval order) and the
// label, and makes a single bounded-wait call to the generation service.
// Failures are reported as GenerationError; the caller decides the degrade
// policy.
func (c *Client) Generate(ctx context.Context, label string, passages []string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: BuildPrompt(label, passages),
		Stream: false,
	})
	if err != nil {
		return "", apperrors.NewGenerationError("failed to encode generation request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", apperrors.NewGenerationError("failed to build generation request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewGenerationError("generation service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.NewGenerationError(
			fmt.Sprintf("generation service returned status %d", resp.StatusCode), nil)
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", apperrors.NewGenerationError("failed to decode generation response", err)
	}
	return strings.TrimSpace(decoded.Response), nil
}

// BuildPrompt concatenates the passages in retrieval order, separated by
// blank lines, followed by the instruction template for the label.
func BuildPrompt(label string, passages []string) string {
	var b strings.Builder
	for _, p := range passages {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	b.WriteString(fmt.Sprintf(instructionTemplate, label))
	return b.String()
}
