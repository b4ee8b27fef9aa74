package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/looplab/fsm"

	"voice-gateway/internal/ai"
	"voice-gateway/internal/clients"
	"voice-gateway/internal/telephony"
)

const (
	StateCreated      = "created"
	StateAnswered     = "answered"
	StateGreeting     = "greeting"
	StateListening    = "listening"
	StateTranscribing = "transcribing"
	StateGenerating   = "generating"
	StateSynthesizing = "synthesizing"
	StatePlaying      = "playing"
	StateFarewell     = "farewell"
	StateFinalized    = "finalized"
	StateFailed       = "failed"
)

var liveStates = []string{
	StateCreated, StateAnswered, StateGreeting, StateListening, StateTranscribing,
	StateGenerating, StateSynthesizing, StatePlaying, StateFarewell,
}

// Session drives one answered call through record, transcribe, generate,
// synthesize and play until the conversation ends.
type Session struct {
	h       *Handler
	client  clients.Client
	inv     telephony.Invite
	log     *slog.Logger
	machine *fsm.FSM

	call     Call
	created  bool
	endpoint telephony.MediaEndpoint
	conv     *Conversation
	seq      int
}

func newSession(h *Handler, client clients.Client, inv telephony.Invite, log *slog.Logger) *Session {
	s := &Session{h: h, client: client, inv: inv, log: log}
	s.machine = fsm.NewFSM(
		StateCreated,
		fsm.Events{
			{Name: "answer", Src: []string{StateCreated}, Dst: StateAnswered},
			{Name: "greet", Src: []string{StateAnswered}, Dst: StateGreeting},
			{Name: "listen", Src: []string{StateAnswered, StateGreeting, StateGenerating, StatePlaying}, Dst: StateListening},
			{Name: "transcribe", Src: []string{StateListening}, Dst: StateTranscribing},
			{Name: "generate", Src: []string{StateTranscribing}, Dst: StateGenerating},
			{Name: "synthesize", Src: []string{StateGenerating}, Dst: StateSynthesizing},
			{Name: "play", Src: []string{StateSynthesizing}, Dst: StatePlaying},
			{Name: "farewell", Src: []string{StateGenerating, StatePlaying}, Dst: StateFarewell},
			{Name: "finish", Src: liveStates, Dst: StateFinalized},
			{Name: "fail", Src: liveStates, Dst: StateFailed},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				log.Debug("call state", "from", e.Src, "to", e.Dst)
			},
		},
	)
	return s
}

func (s *Session) State() string { return s.machine.Current() }

func (s *Session) fire(event string) {
	if err := s.machine.Event(context.Background(), event); err != nil {
		s.log.Debug("call state transition skipped", "event", event, "state", s.machine.Current(), "error", err)
	}
}

func (s *Session) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, fmt.Errorf("panic in call session: %v", r))
		}
	}()
	defer s.cleanup()

	if err := s.converse(ctx); err != nil {
		s.fail(ctx, err)
	}
}

func (s *Session) converse(ctx context.Context) error {
	h := s.h
	call, err := h.ledger.CreateCall(ctx, Call{
		ClientID:     s.client.ID,
		SIPCallID:    s.inv.CallID(),
		CallerNumber: s.inv.From(),
		CalledNumber: s.inv.To(),
		StartTime:    h.now().Truncate(time.Second),
	})
	if err != nil {
		return fmt.Errorf("create call record: %w", err)
	}
	s.call, s.created = call, true
	h.metrics.CallStarted()

	ep, err := s.inv.Answer(ctx)
	if err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	s.endpoint = ep
	s.fire("answer")

	cfg, err := h.ledger.AIConfig(ctx, s.client.ID)
	if err != nil {
		return fmt.Errorf("load ai config: %w", err)
	}
	s.conv = NewConversation(cfg.MaxTurns)

	// Media and AI calls stop as soon as the caller hangs up.
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.inv.Done():
			cancel()
		case <-callCtx.Done():
		}
	}()

	err = s.talk(callCtx, cfg)
	if err != nil && s.hungUp(err) {
		s.log.Info("caller ended the call", "state", s.State())
		return s.finalize(ctx, CallStatusCompleted)
	}
	if err != nil {
		return err
	}

	if cfg.GoodbyeFile != "" {
		if err := ep.Play(callCtx, h.cfg.goodbyePath(cfg.GoodbyeFile)); err != nil {
			if s.hungUp(err) {
				return s.finalize(ctx, CallStatusCompleted)
			}
			return fmt.Errorf("play goodbye: %w", err)
		}
	}
	if err := s.inv.Hangup(ctx); err != nil && !s.hungUp(err) {
		return fmt.Errorf("hang up: %w", err)
	}
	return s.finalize(ctx, CallStatusCompleted)
}

// talk plays the greeting and runs turns until the reply carries the end
// marker or another turn would exceed the conversation limit.
func (s *Session) talk(ctx context.Context, cfg clients.AIConfig) error {
	h := s.h
	if cfg.GreetingFile != "" {
		s.fire("greet")
		if err := s.endpoint.Play(ctx, h.cfg.greetingPath(cfg.GreetingFile)); err != nil {
			return fmt.Errorf("play greeting: %w", err)
		}
	}

	for {
		done, err := s.turn(ctx, cfg)
		if err != nil {
			return err
		}
		h.metrics.TurnCompleted()
		if done || !s.conv.HasRoomForTurn() {
			s.fire("farewell")
			return nil
		}
	}
}

func (s *Session) turn(ctx context.Context, cfg clients.AIConfig) (bool, error) {
	h := s.h
	callID := s.call.ID

	s.fire("listen")
	rec, err := s.endpoint.Record(ctx, h.cfg.inputPath(callID), telephony.RecordLimits{
		MaxDuration:    h.cfg.MaxRecord,
		SilenceTimeout: h.cfg.SilenceTimeout,
	})
	if err != nil {
		return false, fmt.Errorf("record: %w", err)
	}

	s.fire("transcribe")
	model := cfg.TranscriptionModel
	if model == "" {
		model = ai.DefaultTranscriptionModel
	}
	started := h.now()
	text, err := h.pipeline.Transcriber.Transcribe(ctx, rec.Path, model)
	h.metrics.ObserveStage("transcribe", h.now().Sub(started))
	if err != nil {
		return false, err
	}

	history := s.conv.Messages()
	s.conv.Append(SpeakerUser, text)
	if err := s.record(ctx, SpeakerUser, text); err != nil {
		return false, err
	}

	s.fire("generate")
	started = h.now()
	reply, err := h.pipeline.Generator.GenerateReply(ctx, ai.ReplyRequest{Input: text, Config: cfg, History: history})
	h.metrics.ObserveStage("generate", h.now().Sub(started))
	if err != nil {
		return false, err
	}
	s.conv.Append(SpeakerAssistant, reply)
	if err := s.record(ctx, SpeakerAssistant, reply); err != nil {
		return false, err
	}

	done := h.cfg.EndMarker != "" && strings.Contains(reply, h.cfg.EndMarker)
	spoken := reply
	if h.cfg.EndMarker != "" {
		spoken = strings.TrimSpace(strings.ReplaceAll(reply, h.cfg.EndMarker, ""))
	}
	if spoken == "" {
		return done, nil
	}

	s.fire("synthesize")
	started = h.now()
	path, err := h.pipeline.Synthesizer.Synthesize(ctx, spoken, h.cfg.outputPath(callID), cfg)
	h.metrics.ObserveStage("synthesize", h.now().Sub(started))
	if err != nil {
		return false, err
	}

	s.fire("play")
	if err := s.endpoint.Play(ctx, path); err != nil {
		return false, fmt.Errorf("play reply: %w", err)
	}
	return done, nil
}

func (s *Session) record(ctx context.Context, speaker Speaker, content string) error {
	s.seq++
	err := s.h.ledger.AppendInteraction(ctx, Interaction{
		CallID:    s.call.ID,
		Seq:       s.seq,
		Speaker:   speaker,
		Content:   content,
		Timestamp: s.h.now(),
	})
	if err != nil {
		return fmt.Errorf("store %s interaction: %w", speaker, err)
	}
	return nil
}

// hungUp reports whether err is the caller leaving rather than a fault.
func (s *Session) hungUp(err error) bool {
	if errors.Is(err, telephony.ErrCallEnded) {
		return true
	}
	select {
	case <-s.inv.Done():
		return true
	default:
		return false
	}
}

func (s *Session) finalize(ctx context.Context, status CallStatus) error {
	ctx = context.WithoutCancel(ctx)
	end := s.h.now().Truncate(time.Second)
	if end.Before(s.call.StartTime) {
		end = s.call.StartTime
	}
	if err := s.h.ledger.FinalizeCall(ctx, s.call.ID, end, Duration(s.call.StartTime, end), status); err != nil {
		return fmt.Errorf("finalize call: %w", err)
	}
	if status == CallStatusCompleted {
		s.fire("finish")
	}
	s.h.metrics.CallFinished(string(status))
	s.log.Info("call finalized", "status", status, "turns", s.turns())
	return nil
}

func (s *Session) turns() int {
	if s.conv == nil {
		return 0
	}
	return s.conv.Len() / 2
}

// fail is the single error exit of a session: best-effort signalling cleanup,
// one error log entry, and a failed call record.
func (s *Session) fail(ctx context.Context, cause error) {
	ctx = context.WithoutCancel(ctx)
	state := s.State()
	s.fire("fail")
	s.log.Error("call processing failed", "state", state, "error", cause)

	if !s.inv.Responded() {
		_ = s.inv.Reject(ctx, statusServerError, "Internal Server Error")
	} else if s.endpoint != nil {
		select {
		case <-s.inv.Done():
		default:
			_ = s.inv.Hangup(ctx)
		}
	}

	if err := s.h.ledger.AppendErrorLog(ctx, ErrorLog{
		ErrorType: ErrorTypeCallProcessing,
		Details: map[string]any{
			"client_id": s.client.ID,
			"call_id":   s.inv.CallID(),
			"error":     cause.Error(),
			"state":     state,
		},
	}); err != nil {
		s.log.Error("store error log", "error", err)
	}

	if s.created {
		if err := s.finalize(ctx, CallStatusFailed); err != nil {
			s.log.Error("finalize failed call", "error", err)
		}
	}
}

func (s *Session) cleanup() {
	if s.endpoint != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.endpoint.Close(ctx); err != nil && !errors.Is(err, telephony.ErrCallEnded) {
			s.log.Debug("close media endpoint", "error", err)
		}
	}
	if !s.created {
		return
	}
	for _, p := range []string{s.h.cfg.inputPath(s.call.ID), s.h.cfg.outputPath(s.call.ID)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.log.Debug("remove temp audio", "path", p, "error", err)
		}
	}
}
