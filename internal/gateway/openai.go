package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"mathbot/internal/domain"
)

// OpenAI talks to the Chat Completions API or any compatible server
// (Ollama, vLLM, LM Studio) through BaseURL.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

type OpenAIConfig struct {
	APIKey     string
	Model      string
	BaseURL    string // e.g. "http://localhost:11434/v1"
	MaxTokens  int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		conf.HTTPClient = cfg.HTTPClient
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(conf),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Complete(ctx context.Context, req domain.ModelRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Context)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}
	for _, turn := range req.Context {
		role := openai.ChatMessageRoleUser
		if turn.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Text})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.UserText})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  messages,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
			return "", statusError(o.Name(), apiErr.HTTPStatusCode, apiErr.Message)
		}
		var reqErr *openai.RequestError
		if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
			return "", statusError(o.Name(), reqErr.HTTPStatusCode, reqErr.Error())
		}
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
