package registration

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"voice-gateway/internal/clients"
	"voice-gateway/internal/ledger"
	"voice-gateway/internal/telephony"
	"voice-gateway/pkg/utils"
)

func newStore(t *testing.T) *ledger.Store {
	t.Helper()
	ctx := context.Background()
	db, err := utils.OpenDB(ctx, utils.DriverSQLite, filepath.Join(t.TempDir(), "reg.db"), utils.DBPoolConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := ledger.NewStore(db, ledger.DialectSQLite)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func sample(name, user string) clients.Client {
	return clients.Client{
		Name: name,
		SIP:  clients.SIPConfig{Server: "pbx.example.com", Domain: "example.com", Username: user, Password: "pw"},
		AI:   clients.AIConfig{VoiceID: "v1", MaxTurns: 4},
	}
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeTimer struct {
	s       *fakeScheduler
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeScheduler records scheduled tasks; tests fire them by hand.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, delay: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) pending() []*fakeTimer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*fakeTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (s *fakeScheduler) fire(t *fakeTimer) {
	s.mu.Lock()
	t.fired = true
	s.mu.Unlock()
	t.f()
}

type fakeRegistration struct {
	tr     *fakeTransport
	creds  telephony.Credentials
	events chan telephony.Event
	once   sync.Once
}

func (r *fakeRegistration) Events() <-chan telephony.Event { return r.events }

func (r *fakeRegistration) Unregister(context.Context) error {
	r.end()
	return nil
}

func (r *fakeRegistration) end() {
	r.once.Do(func() {
		r.tr.mu.Lock()
		r.tr.live[r.creds.ClientID]--
		r.tr.mu.Unlock()
		close(r.events)
	})
}

// remoteDrop simulates the registrar terminating the registration.
func (r *fakeRegistration) remoteDrop() {
	r.once.Do(func() {
		r.tr.mu.Lock()
		r.tr.live[r.creds.ClientID]--
		r.tr.mu.Unlock()
		r.events <- telephony.Event{Type: telephony.EventUnregistered, Err: errors.New("refresh rejected")}
		close(r.events)
	})
}

type fakeTransport struct {
	mu       sync.Mutex
	failWith error
	delay    time.Duration
	attempts int
	live     map[string]int
	maxLive  map[string]int
	regs     []*fakeRegistration
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{live: map[string]int{}, maxLive: map[string]int{}}
}

func (t *fakeTransport) Register(_ context.Context, creds telephony.Credentials) (telephony.Registration, error) {
	t.mu.Lock()
	t.attempts++
	err := t.failWith
	delay := t.delay
	t.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.live[creds.ClientID]++
	if t.live[creds.ClientID] > t.maxLive[creds.ClientID] {
		t.maxLive[creds.ClientID] = t.live[creds.ClientID]
	}
	r := &fakeRegistration{tr: t, creds: creds, events: make(chan telephony.Event, 4)}
	t.regs = append(t.regs, r)
	return r, nil
}

func (t *fakeTransport) setFail(err error) {
	t.mu.Lock()
	t.failWith = err
	t.mu.Unlock()
}

func (t *fakeTransport) liveCount(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.live[id]
}

func (t *fakeTransport) last() *fakeRegistration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.regs) == 0 {
		return nil
	}
	return t.regs[len(t.regs)-1]
}

type fakeInvite struct {
	id string
}

func (i *fakeInvite) CallID() string { return i.id }
func (i *fakeInvite) From() string   { return "caller" }
func (i *fakeInvite) To() string     { return "1001" }
func (i *fakeInvite) Answer(context.Context) (telephony.MediaEndpoint, error) {
	return nil, errors.New("not used")
}
func (i *fakeInvite) Reject(context.Context, int, string) error { return nil }
func (i *fakeInvite) Responded() bool                           { return false }
func (i *fakeInvite) Hangup(context.Context) error              { return nil }
func (i *fakeInvite) Done() <-chan struct{}                     { return nil }

type recordingHandler struct {
	mu    sync.Mutex
	calls []string
}

func (h *recordingHandler) HandleInvite(_ context.Context, c clients.Client, inv telephony.Invite) {
	h.mu.Lock()
	h.calls = append(h.calls, c.ID+"/"+inv.CallID())
	h.mu.Unlock()
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}
