package ai

import (
	"context"
	"errors"

	"voice-gateway/internal/clients"
)

var (
	ErrTranscription = errors.New("ai: transcription failed")
	ErrGeneration    = errors.New("ai: generation failed")
	ErrSynthesis     = errors.New("ai: synthesis failed")
)

const (
	DefaultTranscriptionModel = "whisper-1"
	DefaultLLMModel           = "gpt-4"
	DefaultSystemPrompt       = "You are a helpful AI assistant."
	DefaultTTSModel           = "eleven_monolingual_v1"

	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ReplyRequest is one generation call. History holds the conversation before
// Input; Input is appended as the final user message.
type ReplyRequest struct {
	Input   string
	Config  clients.AIConfig
	History []Message
}

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, model string) (string, error)
}

type Generator interface {
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text, outputPath string, cfg clients.AIConfig) (string, error)
}

// Pipeline bundles the three stages a call session drives.
type Pipeline struct {
	Transcriber Transcriber
	Generator   Generator
	Synthesizer Synthesizer
}

// BuildMessages assembles the chat prompt: system prompt, history, then input.
func BuildMessages(req ReplyRequest) []Message {
	prompt := req.Config.SystemPrompt
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	msgs := make([]Message, 0, len(req.History)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: prompt})
	msgs = append(msgs, req.History...)
	msgs = append(msgs, Message{Role: RoleUser, Content: req.Input})
	return msgs
}
