package completion

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ent0n29/welli/internal/conversation"
)

// GeminiConfig configures the hosted Gemini client.
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GeminiGenerator calls the Gemini generateContent API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (*GeminiGenerator, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	if cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	contents := make([]*genai.Content, 0, len(req.History))
	for _, t := range req.History {
		contents = append(contents, genai.NewContentFromText(t.Text, geminiRole(t.Role)))
	}

	gc := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		gc.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if strings.TrimSpace(req.SystemInstruction) != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, gc)
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil {
		return Response{}, nil
	}
	return Response{Text: strings.TrimSpace(resp.Text())}, nil
}

func geminiRole(r conversation.Role) genai.Role {
	if r == conversation.RoleModel {
		return genai.RoleModel
	}
	return genai.RoleUser
}
