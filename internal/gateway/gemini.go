package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"google.golang.org/genai"

	"mathbot/internal/domain"
)

// Gemini talks to the Gemini API through the google genai SDK.
type Gemini struct {
	client    *genai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

type GeminiConfig struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxTokens  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewGemini builds the client. It fails only on invalid client options.
func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model, maxTokens: cfg.MaxTokens, logger: cfg.Logger}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Complete(ctx context.Context, req domain.ModelRequest) (string, error) {
	contents := make([]*genai.Content, 0, len(req.Context)+1)
	for _, turn := range req.Context {
		role := genai.RoleUser
		if turn.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, genai.Role(role)))
	}
	contents = append(contents, genai.NewContentFromText(req.UserText, genai.RoleUser))

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(g.maxTokens),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code != 0 {
			return "", statusError(g.Name(), apiErr.Code, apiErr.Message)
		}
		var apiErrPtr *genai.APIError
		if errors.As(err, &apiErrPtr) && apiErrPtr.Code != 0 {
			return "", statusError(g.Name(), apiErrPtr.Code, apiErrPtr.Message)
		}
		return "", err
	}
	return resp.Text(), nil
}
