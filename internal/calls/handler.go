package calls

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"voice-gateway/internal/ai"
	"voice-gateway/internal/clients"
	"voice-gateway/internal/metrics"
	"voice-gateway/internal/telephony"
)

const (
	statusBusy        = 486
	statusServerError = 500
)

// Ledger is what a call session persists.
type Ledger interface {
	CreateCall(ctx context.Context, c Call) (Call, error)
	FinalizeCall(ctx context.Context, id string, end time.Time, duration int, status CallStatus) error
	AppendInteraction(ctx context.Context, in Interaction) error
	AppendErrorLog(ctx context.Context, e ErrorLog) error
	AIConfig(ctx context.Context, clientID string) (clients.AIConfig, error)
}

type Config struct {
	MediaPath      string
	TempPath       string
	MaxRecord      time.Duration
	SilenceTimeout time.Duration
	EndMarker      string
}

func (c Config) greetingPath(file string) string {
	return filepath.Join(c.MediaPath, "greetings", file)
}

func (c Config) goodbyePath(file string) string {
	return filepath.Join(c.MediaPath, "goodbyes", file)
}

// Temp audio is keyed by the ledger's call ID, never the caller-supplied SIP
// Call-ID. Base keeps the name inside TempPath regardless.
func (c Config) inputPath(callID string) string {
	return filepath.Join(c.TempPath, filepath.Base(callID)+"_input.wav")
}

func (c Config) outputPath(callID string) string {
	return filepath.Join(c.TempPath, filepath.Base(callID)+"_output.wav")
}

type Option func(*Handler)

// WithCallCap enables the per-client concurrent call cap.
func WithCallCap(c CallCap) Option {
	return func(h *Handler) { h.cap = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler turns inbound invites into call sessions.
type Handler struct {
	ledger   Ledger
	pipeline ai.Pipeline
	cfg      Config
	cap      CallCap
	metrics  *metrics.Metrics
	now      func() time.Time
	log      *slog.Logger
}

func NewHandler(ledger Ledger, pipeline ai.Pipeline, cfg Config, log *slog.Logger, opts ...Option) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		ledger:   ledger,
		pipeline: pipeline,
		cfg:      cfg,
		now:      time.Now,
		log:      log.With("component", "calls"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleInvite runs one call to completion. It never returns an error; every
// failure ends up in the error log and on the call record.
func (h *Handler) HandleInvite(ctx context.Context, client clients.Client, inv telephony.Invite) {
	log := h.log.With("client_id", client.ID, "call_id", inv.CallID())

	if h.cap != nil {
		ok, err := h.cap.Acquire(ctx, client.ID)
		switch {
		case err != nil:
			// The cap is advisory; a Redis outage must not drop calls.
			log.Warn("call cap unavailable, admitting call", "error", err)
		case !ok:
			log.Info("client at call limit, rejecting")
			h.metrics.CallRejected("busy")
			_ = inv.Reject(ctx, statusBusy, "Busy Here")
			return
		default:
			defer func() {
				if err := h.cap.Release(context.WithoutCancel(ctx), client.ID); err != nil {
					log.Warn("release call slot", "error", err)
				}
			}()
		}
	}

	log.Info("incoming call", "from", inv.From(), "to", inv.To())
	s := newSession(h, client, inv, log)
	s.run(ctx)
}
