package llm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/askgeorge/askgeorge/pkg/ollama"
)

// --- Ollama ---

func ollamaCall(cfg Config) (callFunc, sentinelFunc) {
	client := ollama.NewGenerateClient(cfg.OllamaURL, cfg.OllamaModel,
		ollama.WithHTTPClient(newHTTPClient(cfg.OllamaTimeout)))
	sentinel := func(err error) string {
		switch {
		case isTimeout(err):
			return Warningf("Ollama timed out. Try again after the model is ready.")
		case isConnRefused(err):
			return Warningf("Ollama not running. Start it with: `ollama run %s`", cfg.OllamaModel)
		default:
			return Warningf("Ollama error: %v", err)
		}
	}
	return client.Generate, sentinel
}

// --- OpenAI ---

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func openAICall(cfg Config) (callFunc, sentinelFunc) {
	hc := newHTTPClient(cfg.Timeout)
	call := func(ctx context.Context, prompt string) (string, error) {
		if cfg.OpenAIKey == "" {
			return "", errMissingKey
		}
		var resp openAIResponse
		err := postJSON(ctx, hc, strings.TrimRight(cfg.OpenAIURL, "/")+"/v1/chat/completions",
			map[string]string{"Authorization": "Bearer " + cfg.OpenAIKey},
			openAIRequest{Model: cfg.OpenAIModel, Messages: []openAIMessage{{Role: "user", Content: prompt}}},
			&resp)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("%w: no choices", ErrMalformedResponse)
		}
		return resp.Choices[0].Message.Content, nil
	}
	sentinel := func(err error) string {
		if errors.Is(err, errMissingKey) {
			return missingKey("OpenAI", "OPENAI_API_KEY")
		}
		return Warningf("OpenAI error: %v", err)
	}
	return call, sentinel
}

// --- Claude ---

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []openAIMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

const anthropicVersion = "2023-06-01"

func claudeCall(cfg Config) (callFunc, sentinelFunc) {
	hc := newHTTPClient(cfg.Timeout)
	call := func(ctx context.Context, prompt string) (string, error) {
		if cfg.AnthropicKey == "" {
			return "", errMissingKey
		}
		var resp claudeResponse
		err := postJSON(ctx, hc, strings.TrimRight(cfg.AnthropicURL, "/")+"/v1/messages",
			map[string]string{"x-api-key": cfg.AnthropicKey, "anthropic-version": anthropicVersion},
			claudeRequest{Model: cfg.ClaudeModel, MaxTokens: cfg.ClaudeMaxTokens, Messages: []openAIMessage{{Role: "user", Content: prompt}}},
			&resp)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, c := range resp.Content {
			if c.Type == "" || c.Type == "text" {
				b.WriteString(c.Text)
			}
		}
		return b.String(), nil
	}
	sentinel := func(err error) string {
		var se *StatusError
		switch {
		case errors.Is(err, errMissingKey):
			return missingKey("Claude", "ANTHROPIC_API_KEY")
		case errors.As(err, &se) && se.Code == 400 && strings.Contains(strings.ToLower(se.Body), "credit balance"):
			return Warningf("Claude is unavailable due to insufficient credits.")
		default:
			return Warningf("Claude API error: %v", err)
		}
	}
	return call, sentinel
}

// --- Hugging Face ---

type hfRequest struct {
	Inputs     string `json:"inputs"`
	Parameters struct {
		MaxNewTokens int `json:"max_new_tokens"`
	} `json:"parameters"`
	Options struct {
		WaitForModel bool `json:"wait_for_model"`
	} `json:"options"`
}

type hfGenerated struct {
	GeneratedText string `json:"generated_text"`
}

func huggingFaceCall(cfg Config) (callFunc, sentinelFunc) {
	hc := newHTTPClient(cfg.HFTimeout)
	call := func(ctx context.Context, prompt string) (string, error) {
		if cfg.HFKey == "" {
			return "", errMissingKey
		}
		req := hfRequest{Inputs: prompt}
		req.Parameters.MaxNewTokens = cfg.HFMaxNewTokens
		req.Options.WaitForModel = true

		var resp []hfGenerated
		err := postJSON(ctx, hc, strings.TrimRight(cfg.HFURL, "/")+"/models/"+url.PathEscape(cfg.HFModel),
			map[string]string{"Authorization": "Bearer " + cfg.HFKey}, req, &resp)
		if err != nil {
			return "", err
		}
		if len(resp) == 0 {
			return "", fmt.Errorf("%w: no generations", ErrMalformedResponse)
		}
		// The inference API echoes the prompt ahead of the completion.
		return strings.TrimPrefix(resp[0].GeneratedText, prompt), nil
	}
	sentinel := func(err error) string {
		switch {
		case errors.Is(err, errMissingKey):
			return missingKey("Hugging Face", "HUGGINGFACE_API_KEY")
		case errors.Is(err, ErrMalformedResponse):
			return Warningf("Unexpected Hugging Face response: %v", err)
		default:
			return Warningf("Hugging Face error: %v", err)
		}
	}
	return call, sentinel
}

// --- Gemini ---

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func geminiCall(cfg Config) (callFunc, sentinelFunc) {
	hc := newHTTPClient(cfg.GeminiTimeout)
	call := func(ctx context.Context, prompt string) (string, error) {
		if cfg.GeminiKey == "" {
			return "", errMissingKey
		}
		var resp geminiResponse
		endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(cfg.GeminiURL, "/"), url.PathEscape(cfg.GeminiModel))
		err := postJSON(ctx, hc, endpoint,
			map[string]string{"x-goog-api-key": cfg.GeminiKey},
			geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}},
			&resp)
		if err != nil {
			return "", err
		}
		if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
		}
		return resp.Candidates[0].Content.Parts[0].Text, nil
	}
	sentinel := func(err error) string {
		if errors.Is(err, errMissingKey) {
			return missingKey("Gemini", "GOOGLE_GEMINI_API_KEY")
		}
		return Warningf("Gemini API error: %v", err)
	}
	return call, sentinel
}

var errMissingKey = errors.New("api key not configured")

func missingKey(provider, env string) string {
	return Warningf("%s API key is not configured. Set %s.", provider, env)
}
