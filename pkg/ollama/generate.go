package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// GenerateClient runs non-streaming completions with /api/generate.
type GenerateClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewGenerateClient creates an Ollama generation client.
func NewGenerateClient(baseURL, model string, opts ...Option) *GenerateClient {
	return &GenerateClient{
		baseURL: baseURL,
		model:   model,
		client:  newHTTPClient(opts),
	}
}

// Model returns the model name sent with every request.
func (c *GenerateClient) Model() string { return c.model }

type ollamaGenerateReq struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResp struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// Generate returns the model's response to prompt.
func (c *GenerateClient) Generate(ctx context.Context, prompt string) (string, error) {
	body, _ := json.Marshal(ollamaGenerateReq{Model: c.model, Prompt: prompt})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Op: "generate", Code: resp.StatusCode}
	}

	var result ollamaGenerateResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("ollama generate decode: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("ollama generate: %s", result.Error)
	}
	return result.Response, nil
}
