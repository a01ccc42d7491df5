package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/welli/internal/conversation"
)

// Request is everything the completion service needs for one generation.
type Request struct {
	History           []conversation.Turn `json:"history"`
	SystemInstruction string              `json:"system_instruction,omitempty"`
	MaxOutputTokens   int                 `json:"max_output_tokens,omitempty"`
	// Temperature is left to the model default when nil.
	Temperature *float64 `json:"temperature,omitempty"`
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }

// Response carries the generated text. Empty text is a valid response; callers
// decide whether it is usable.
type Response struct {
	Text string `json:"text"`
}

// Generator is the completion service: given role-tagged history, an
// instruction and sampling parameters it returns text or fails.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// Config controls generator construction.
type Config struct {
	Mode         string
	GeminiAPIKey string
	Model        string
	HTTPURL      string
	// BaseURL overrides the Gemini API endpoint.
	BaseURL string
	Timeout time.Duration
}

func NewGenerator(ctx context.Context, cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		return newAutoGenerator(ctx, cfg)
	case "gemini":
		if strings.TrimSpace(cfg.GeminiAPIKey) == "" {
			return nil, errors.New("gemini api key is required for gemini mode")
		}
		return NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, errors.New("completion HTTP url is required for http mode")
		}
		return NewHTTPGenerator(cfg.HTTPURL, cfg.Timeout), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}
}

// ErrNoProvider is returned in auto mode when neither a Gemini key nor an HTTP
// endpoint is configured. The mock is only used when asked for by name.
var ErrNoProvider = errors.New("no completion provider configured: set GOOGLE_GENAI_API_KEY or COMPLETION_HTTP_URL, or COMPLETION_PROVIDER=mock")

// newAutoGenerator prefers Gemini and uses the HTTP endpoint as its fallback
// when both are configured.
func newAutoGenerator(ctx context.Context, cfg Config) (Generator, error) {
	var httpGen Generator
	if strings.TrimSpace(cfg.HTTPURL) != "" {
		httpGen = NewHTTPGenerator(cfg.HTTPURL, cfg.Timeout)
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		if httpGen != nil {
			return NewFallbackGenerator(gemini, httpGen), nil
		}
		return gemini, nil
	}

	if httpGen != nil {
		return httpGen, nil
	}
	return nil, ErrNoProvider
}

// Name describes the generator for health and startup logs.
func Name(g Generator) string {
	switch v := g.(type) {
	case *GeminiGenerator:
		return "gemini"
	case *HTTPGenerator:
		return "http"
	case *MockGenerator:
		return "mock"
	case *FallbackGenerator:
		return Name(v.Primary()) + "+" + Name(v.Secondary())
	default:
		return "custom"
	}
}
