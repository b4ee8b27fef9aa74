package calls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"voice-gateway/internal/ai"
	"voice-gateway/internal/clients"
	"voice-gateway/internal/telephony"
)

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stepClock advances by step on every reading.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type memLedger struct {
	mu           sync.Mutex
	cfg          clients.AIConfig
	cfgErr       error
	calls        map[string]*Call
	interactions []Interaction
	errorLogs    []ErrorLog
	finalized    int
}

func newMemLedger(cfg clients.AIConfig) *memLedger {
	return &memLedger{cfg: cfg, calls: map[string]*Call{}}
}

func (l *memLedger) CreateCall(_ context.Context, c Call) (Call, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c.ID = fmt.Sprintf("call-%d", len(l.calls)+1)
	c.Status = CallStatusInProgress
	cp := c
	l.calls[c.ID] = &cp
	return c, nil
}

func (l *memLedger) FinalizeCall(_ context.Context, id string, end time.Time, duration int, status CallStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.calls[id]
	if !ok {
		return errors.New("no such call")
	}
	if c.Status.Terminal() {
		return errors.New("already finalized")
	}
	c.EndTime, c.DurationSeconds, c.Status = &end, &duration, status
	l.finalized++
	return nil
}

func (l *memLedger) AppendInteraction(_ context.Context, in Interaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interactions = append(l.interactions, in)
	return nil
}

func (l *memLedger) AppendErrorLog(_ context.Context, e ErrorLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLogs = append(l.errorLogs, e)
	return nil
}

func (l *memLedger) AIConfig(context.Context, string) (clients.AIConfig, error) {
	return l.cfg, l.cfgErr
}

func (l *memLedger) onlyCall() Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.calls {
		return *c
	}
	return Call{}
}

type fakeEndpoint struct {
	mu      sync.Mutex
	records int
	// recordErr, when set, decides the outcome of the nth recording (1-based).
	recordErr func(n int) error
	recorded  []string
	played    []string
	closed    bool
}

func (e *fakeEndpoint) Address() telephony.RTPAddress {
	return telephony.RTPAddress{IP: "10.0.0.5", Port: 30000}
}

func (e *fakeEndpoint) Record(_ context.Context, path string, _ telephony.RecordLimits) (telephony.Recording, error) {
	e.mu.Lock()
	e.records++
	e.recorded = append(e.recorded, path)
	n := e.records
	hook := e.recordErr
	e.mu.Unlock()
	if hook != nil {
		if err := hook(n); err != nil {
			return telephony.Recording{}, err
		}
	}
	if err := os.WriteFile(path, []byte("RIFF"), 0o600); err != nil {
		return telephony.Recording{}, err
	}
	return telephony.Recording{Path: path, Duration: time.Second}, nil
}

func (e *fakeEndpoint) Play(_ context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.played = append(e.played, path)
	return nil
}

func (e *fakeEndpoint) Close(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type fakeInvite struct {
	mu        sync.Mutex
	callID    string
	ep        *fakeEndpoint
	answerErr error
	responded bool
	rejects   []int
	hangups   int
	done      chan struct{}
	doneOnce  sync.Once
}

func newFakeInvite() *fakeInvite {
	return &fakeInvite{callID: "sip-call-1", ep: &fakeEndpoint{}, done: make(chan struct{})}
}

func (i *fakeInvite) CallID() string { return i.callID }
func (i *fakeInvite) From() string   { return "15550001111" }
func (i *fakeInvite) To() string     { return "1001" }

func (i *fakeInvite) Answer(context.Context) (telephony.MediaEndpoint, error) {
	if i.answerErr != nil {
		return nil, i.answerErr
	}
	i.mu.Lock()
	i.responded = true
	i.mu.Unlock()
	return i.ep, nil
}

func (i *fakeInvite) Reject(_ context.Context, code int, _ string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.responded {
		return nil
	}
	i.responded = true
	i.rejects = append(i.rejects, code)
	return nil
}

func (i *fakeInvite) Responded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.responded
}

func (i *fakeInvite) Hangup(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.hangups++
	return nil
}

func (i *fakeInvite) Done() <-chan struct{} { return i.done }

func (i *fakeInvite) hangUpRemote() {
	i.doneOnce.Do(func() { close(i.done) })
}

// scriptedAI answers turn n with transcripts[n] and replies[n].
type scriptedAI struct {
	mu          sync.Mutex
	transcripts []string
	replies     []string
	heardErr    map[int]error
	genErr      map[int]error
	panicOn     int
	heard       int
	generated   int
	spoken      []string
	outputs     []string
	histories   [][]ai.Message
}

func (a *scriptedAI) Transcribe(_ context.Context, _, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.heard++
	if a.panicOn == a.heard {
		panic("transcriber exploded")
	}
	if err := a.heardErr[a.heard]; err != nil {
		return "", err
	}
	return a.transcripts[(a.heard-1)%len(a.transcripts)], nil
}

func (a *scriptedAI) GenerateReply(_ context.Context, req ai.ReplyRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generated++
	a.histories = append(a.histories, req.History)
	if err := a.genErr[a.generated]; err != nil {
		return "", err
	}
	return a.replies[(a.generated-1)%len(a.replies)], nil
}

func (a *scriptedAI) Synthesize(_ context.Context, text, outputPath string, _ clients.AIConfig) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.spoken = append(a.spoken, text)
	a.outputs = append(a.outputs, outputPath)
	if err := os.WriteFile(outputPath, []byte("RIFF"), 0o600); err != nil {
		return "", err
	}
	return outputPath, nil
}

func (a *scriptedAI) pipeline() ai.Pipeline {
	return ai.Pipeline{Transcriber: a, Generator: a, Synthesizer: a}
}

type fakeCap struct {
	allow    bool
	err      error
	released int
}

func (c *fakeCap) Acquire(context.Context, string) (bool, error) { return c.allow, c.err }
func (c *fakeCap) Release(context.Context, string) error {
	c.released++
	return nil
}
