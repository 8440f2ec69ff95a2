package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"mediaflow/internal/services"
)

type embeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int             `json:"index"`
		Embedding json.RawMessage `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error"`
}

// Embed requests an embedding vector for input. dims is forwarded when
// positive. A component that is not a JSON number fails the call.
func (c *Client) Embed(ctx context.Context, input string, dims int) ([]float64, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, services.Wrap(services.ErrValidation, "llm", "embed", "input text required", nil)
	}
	if err := c.requireKey("embed"); err != nil {
		return nil, err
	}
	req := embeddingRequest{Model: c.cfg.Model, Input: input, Dimensions: max(dims, 0)}

	var vector []float64
	err := c.retry(ctx, func() error {
		body, err := c.post(ctx, req)
		if err != nil {
			return err
		}
		var resp embeddingResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("decode embedding response: %w", err)
		}
		if resp.Error != nil {
			return fmt.Errorf("provider error: %s", strings.TrimSpace(resp.Error.Message))
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("empty data (response_snippet=%s)", snippet(string(body)))
		}
		if err := json.Unmarshal(resp.Data[0].Embedding, &vector); err != nil {
			return fmt.Errorf("embedding is not a numeric array: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, Classify("embed", err)
	}
	return vector, nil
}
