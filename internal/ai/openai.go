package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 500
)

// OpenAIClient transcribes audio with Whisper and generates replies with the
// chat completions API.
type OpenAIClient struct {
	api *openai.Client
	log *slog.Logger
}

// NewOpenAIClient talks to baseURL, the API root without the /v1 suffix.
func NewOpenAIClient(baseURL, apiKey string, timeout time.Duration, log *slog.Logger) *OpenAIClient {
	if log == nil {
		log = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &OpenAIClient{
		api: openai.NewClientWithConfig(cfg),
		log: log.With("component", "openai"),
	}
}

func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath, model string) (string, error) {
	if model == "" {
		model = DefaultTranscriptionModel
	}
	res, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTranscription, err)
	}
	c.log.Debug("transcription completed", "path", audioPath, "model", model)
	return strings.TrimSpace(res.Text), nil
}

func (c *OpenAIClient) GenerateReply(ctx context.Context, r ReplyRequest) (string, error) {
	reply, err := c.generate(ctx, r)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	c.log.Debug("reply generated", "history", len(r.History))
	return reply, nil
}

func (c *OpenAIClient) generate(ctx context.Context, r ReplyRequest) (string, error) {
	model := r.Config.LLMModel
	if model == "" {
		model = DefaultLLMModel
	}
	msgs := BuildMessages(r)
	chat := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		chat = append(chat, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	res, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    chat,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(res.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return res.Choices[0].Message.Content, nil
}
