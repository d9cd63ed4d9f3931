package llm

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/askgeorge/askgeorge/pkg/metrics"
	"github.com/askgeorge/askgeorge/pkg/resilience"
)

// Mode names a generation backend.
type Mode string

const (
	ModeOllama      Mode = "ollama"
	ModeOpenAI      Mode = "openai"
	ModeClaude      Mode = "claude"
	ModeHuggingFace Mode = "huggingface"
	ModeGemini      Mode = "gemini"
)

// Config configures every backend the dispatcher can serve.
type Config struct {
	OllamaURL     string
	OllamaModel   string
	OllamaTimeout time.Duration

	OpenAIURL   string
	OpenAIKey   string
	OpenAIModel string

	AnthropicURL    string
	AnthropicKey    string
	ClaudeModel     string
	ClaudeMaxTokens int

	HFURL          string
	HFKey          string
	HFModel        string
	HFMaxNewTokens int
	HFTimeout      time.Duration

	GeminiURL     string
	GeminiKey     string
	GeminiModel   string
	GeminiTimeout time.Duration

	// Timeout applies to backends without their own timeout.
	Timeout time.Duration
	// RatePerSecond limits requests per backend; <= 0 disables limiting.
	RatePerSecond float64
	Burst         int
	Breaker       resilience.BreakerOpts
	// Metrics, when set, exports each backend's circuit state.
	Metrics *metrics.Registry
}

// DefaultConfig returns the public endpoints and models.
func DefaultConfig() Config {
	return Config{
		OllamaURL:       "http://localhost:11434",
		OllamaModel:     "phi3:mini",
		OllamaTimeout:   15 * time.Second,
		OpenAIURL:       "https://api.openai.com",
		OpenAIModel:     "gpt-3.5-turbo",
		AnthropicURL:    "https://api.anthropic.com",
		ClaudeModel:     "claude-3-haiku-20240307",
		ClaudeMaxTokens: 1024,
		HFURL:           "https://api-inference.huggingface.co",
		HFModel:         "tiiuae/falcon-7b-instruct",
		HFMaxNewTokens:  256,
		HFTimeout:       30 * time.Second,
		GeminiURL:       "https://generativelanguage.googleapis.com",
		GeminiModel:     "gemini-1.5-flash",
		GeminiTimeout:   20 * time.Second,
		Timeout:         30 * time.Second,
		RatePerSecond:   5,
		Burst:           5,
		Breaker:         resilience.DefaultBreakerOpts,
	}
}

// Dispatcher owns one backend per mode. It is safe for concurrent use.
type Dispatcher struct {
	backends map[Mode]Backend
}

// NewDispatcher builds every backend. Backends without credentials still
// exist and answer with a configuration warning.
func NewDispatcher(cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{backends: make(map[Mode]Backend)}
	var limiter *resilience.KeyedLimiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = resilience.NewKeyedLimiter(resilience.LimiterOpts{Rate: cfg.RatePerSecond, Burst: burst})
	}
	add := func(mode Mode, name string, call callFunc, sentinel sentinelFunc) {
		bl := logger.With("component", "llm", "mode", string(mode))
		opts := cfg.Breaker
		open := &metrics.Gauge{}
		if cfg.Metrics != nil {
			open = cfg.Metrics.Gauge(metrics.WithLabels("askgeorge_backend_circuit_open", "mode", string(mode)), "1 while the backend circuit is open")
		}
		if opts.IsFailure == nil {
			opts.IsFailure = countsAsOutage
		}
		opts.OnStateChange = func(from, to resilience.State) {
			bl.Warn("llm circuit state changed", "from", from.String(), "to", to.String())
			if to == resilience.StateOpen {
				open.Set(1)
			} else {
				open.Set(0)
			}
		}
		d.backends[mode] = &guarded{
			name:     name,
			call:     call,
			sentinel: sentinel,
			limiter:  limiter,
			key:      string(mode),
			breaker:  resilience.NewBreaker(opts),
			logger:   bl,
		}
	}

	call, sentinel := ollamaCall(cfg)
	add(ModeOllama, "Ollama", call, sentinel)
	call, sentinel = openAICall(cfg)
	add(ModeOpenAI, "OpenAI", call, sentinel)
	call, sentinel = claudeCall(cfg)
	add(ModeClaude, "Claude", call, sentinel)
	call, sentinel = huggingFaceCall(cfg)
	add(ModeHuggingFace, "Hugging Face", call, sentinel)
	call, sentinel = geminiCall(cfg)
	add(ModeGemini, "Gemini", call, sentinel)
	return d
}

// Backend returns the backend for mode, matched case-insensitively. Unknown
// modes get a backend that always answers InvalidModeAnswer.
func (d *Dispatcher) Backend(mode string) Backend {
	if b, ok := d.backends[Mode(strings.ToLower(strings.TrimSpace(mode)))]; ok {
		return b
	}
	return invalidMode{mode: mode}
}

// Valid reports whether mode has a backend.
func (d *Dispatcher) Valid(mode string) bool {
	_, ok := d.backends[Mode(strings.ToLower(strings.TrimSpace(mode)))]
	return ok
}

// Modes lists the served modes in name order.
func (d *Dispatcher) Modes() []Mode {
	out := make([]Mode, 0, len(d.backends))
	for m := range d.backends {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// countsAsOutage reports whether err says the backend itself is unhealthy.
// Configuration problems and rejected requests do not trip the circuit.
func countsAsOutage(err error) bool {
	if errors.Is(err, errMissingKey) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}
