package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/haguro/elevenlabs-go"

	"voice-gateway/internal/clients"
)

// speechAPI is the slice of the ElevenLabs SDK the synthesizer uses.
type speechAPI interface {
	TextToSpeech(voiceID string, req elevenlabs.TextToSpeechRequest, queries ...elevenlabs.QueryFunc) ([]byte, error)
}

// ElevenLabsClient synthesizes speech through the ElevenLabs API.
type ElevenLabsClient struct {
	model string
	// dial binds an SDK client to one request's context.
	dial func(ctx context.Context) speechAPI
	log  *slog.Logger
}

func NewElevenLabsClient(apiKey string, timeout time.Duration, log *slog.Logger) *ElevenLabsClient {
	if log == nil {
		log = slog.Default()
	}
	return &ElevenLabsClient{
		model: DefaultTTSModel,
		dial: func(ctx context.Context) speechAPI {
			return elevenlabs.NewClient(ctx, apiKey, timeout)
		},
		log: log.With("component", "elevenlabs"),
	}
}

// Synthesize writes the audio for text to outputPath and returns the path.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text, outputPath string, cfg clients.AIConfig) (string, error) {
	if err := c.synthesize(ctx, text, outputPath, cfg.VoiceID); err != nil {
		return "", fmt.Errorf("%w: %w", ErrSynthesis, err)
	}
	c.log.Debug("speech synthesized", "path", outputPath, "chars", len(text))
	return outputPath, nil
}

func (c *ElevenLabsClient) synthesize(ctx context.Context, text, outputPath, voiceID string) error {
	if voiceID == "" {
		return errors.New("voice id is required")
	}
	audio, err := c.dial(ctx).TextToSpeech(voiceID, elevenlabs.TextToSpeechRequest{
		Text:    text,
		ModelID: c.model,
	})
	if err != nil {
		return err
	}
	if len(audio) == 0 {
		return errors.New("empty audio")
	}

	// outputPath is only replaced once the full body is on disk.
	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".tts-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), outputPath)
}
