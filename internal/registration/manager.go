// Package registration keeps every client registered with its remote
// registrar: one state machine per client, cancellable retries, and an event
// watcher per live registration that hands inbound calls to the call layer.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"voice-gateway/internal/clients"
	"voice-gateway/internal/ledger"
	"voice-gateway/internal/metrics"
	"voice-gateway/internal/telephony"
)

const (
	msgRegistering = "Registering"
	msgRegistered  = "Registration successful"
	msgTerminated  = "Registration terminated"
	msgStopped     = "Registration stopped by operator"
)

// ClientStore is the slice of the ledger the manager needs.
type ClientStore interface {
	ListClients(ctx context.Context) ([]clients.Client, error)
	GetClient(ctx context.Context, id string) (clients.Client, error)
	CreateClient(ctx context.Context, c clients.Client) (clients.Client, error)
	UpdateClient(ctx context.Context, c clients.Client) (clients.Client, error)
	DeleteClient(ctx context.Context, id string) error
	SetClientStatus(ctx context.Context, id string, status clients.Status, message string) error
}

// InviteHandler runs one inbound call to completion.
type InviteHandler interface {
	HandleInvite(ctx context.Context, client clients.Client, inv telephony.Invite)
}

type Config struct {
	RetryDelay      time.Duration
	ReregisterDelay time.Duration
}

type Option func(*Manager)

func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.sched = s }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.clock = now }
}

func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// Entry is one row of the registration status view.
type Entry struct {
	Client     clients.Client `json:"client"`
	Registered bool           `json:"registered"`
	State      string         `json:"state"`
	Since      *time.Time     `json:"since,omitempty"`
}

type Manager struct {
	store     ClientStore
	transport telephony.Transport
	invites   InviteHandler
	cfg       Config
	sched     Scheduler
	clock     func() time.Time
	metrics   *metrics.Metrics
	log       *slog.Logger

	// ctx outlives individual requests; it scopes watchers, retries and calls.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	states  map[string]snapshot
	live    int
}

func NewManager(store ClientStore, transport telephony.Transport, invites InviteHandler, cfg Config, log *slog.Logger, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		store:     store,
		transport: transport,
		invites:   invites,
		cfg:       cfg,
		sched:     clockScheduler{},
		clock:     time.Now,
		log:       log.With("component", "registration"),
		ctx:       ctx,
		cancel:    cancel,
		entries:   make(map[string]*entry),
		states:    make(map[string]snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start registers every stored client that an operator has not stopped.
// Clients are registered one after another; individual failures are retried
// in the background.
func (m *Manager) Start(ctx context.Context) error {
	list, err := m.store.ListClients(ctx)
	if err != nil {
		return fmt.Errorf("load clients: %w", err)
	}
	for _, c := range list {
		if !c.RegisterOnStartup() {
			m.log.Info("skipping client stopped by operator", "client_id", c.ID, "name", c.Name)
			continue
		}
		if err := m.Register(ctx, c); err != nil {
			m.log.Error("register client on startup", "client_id", c.ID, "error", err)
		}
	}
	return nil
}

// Register (re)registers client. Transport failures are recorded on the
// client and retried; only persistence errors are returned. The client is
// reloaded under the lock, so a snapshot older than a concurrent update
// registers the committed settings. A deleted client yields ledger.ErrNotFound.
func (m *Manager) Register(ctx context.Context, client clients.Client) error {
	e := m.acquire(client.ID)
	defer m.release(e)

	current, err := m.store.GetClient(ctx, client.ID)
	if err != nil {
		return err
	}
	return m.registerLocked(ctx, e, current)
}

// Unregister stops client id's registration and marks it as stopped so
// startup leaves it alone. Repeating it is harmless.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	e := m.acquire(id)
	defer m.release(e)

	m.cancelRetry(e)
	m.resetFailed(e)
	if err := m.unregisterLocked(ctx, e); err != nil {
		m.log.Warn("transport unregister failed", "client_id", id, "error", err)
	}
	return m.store.SetClientStatus(ctx, id, clients.StatusUnregistered, msgStopped)
}

// AddClient stores a new client and registers it.
func (m *Manager) AddClient(ctx context.Context, c clients.Client) (clients.Client, error) {
	created, err := m.store.CreateClient(ctx, c)
	if err != nil {
		return clients.Client{}, err
	}
	if err := m.Register(ctx, created); err != nil {
		return created, err
	}
	return m.store.GetClient(ctx, created.ID)
}

// UpdateClient replaces a client's settings. The old registration is torn
// down first and a new one is made with the committed data, unless an
// operator had stopped the client.
func (m *Manager) UpdateClient(ctx context.Context, c clients.Client) (clients.Client, error) {
	check := c
	check.Normalize()
	if err := check.Validate(); err != nil {
		return clients.Client{}, err
	}

	e := m.acquire(c.ID)
	defer m.release(e)

	prev, err := m.store.GetClient(ctx, c.ID)
	if err != nil {
		return clients.Client{}, err
	}

	m.cancelRetry(e)
	m.resetFailed(e)
	if err := m.unregisterLocked(ctx, e); err != nil {
		m.log.Warn("transport unregister failed", "client_id", c.ID, "error", err)
	}

	updated, err := m.store.UpdateClient(ctx, c)
	if err != nil {
		if prev.RegisterOnStartup() {
			if rerr := m.registerLocked(ctx, e, prev); rerr != nil {
				m.log.Error("restore registration after failed update", "client_id", c.ID, "error", rerr)
			}
		}
		return clients.Client{}, err
	}
	if !prev.RegisterOnStartup() {
		return updated, nil
	}
	if err := m.registerLocked(ctx, e, updated); err != nil {
		return updated, err
	}
	return m.store.GetClient(ctx, c.ID)
}

// RemoveClient unregisters and deletes a client. Calls already in progress
// are left to finish.
func (m *Manager) RemoveClient(ctx context.Context, id string) error {
	e := m.acquire(id)
	defer m.release(e)

	m.cancelRetry(e)
	m.resetFailed(e)
	if err := m.unregisterLocked(ctx, e); err != nil {
		m.log.Warn("transport unregister failed", "client_id", id, "error", err)
	}
	if err := m.store.DeleteClient(ctx, id); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.states, id)
	m.mu.Unlock()
	m.log.Info("client removed", "client_id", id)
	return nil
}

// Status joins every stored client with its in-process registration state.
func (m *Manager) Status(ctx context.Context) ([]Entry, error) {
	list, err := m.store.ListClients(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	states := make(map[string]snapshot, len(m.states))
	for id, s := range m.states {
		states[id] = s
	}
	m.mu.Unlock()

	out := make([]Entry, 0, len(list))
	for _, c := range list {
		s := states[c.ID]
		row := Entry{Client: c.Redacted(), Registered: s.live, State: s.state}
		if row.State == "" {
			row.State = StateIdle
		}
		if !s.since.IsZero() {
			since := s.since
			row.Since = &since
		}
		out = append(out, row)
	}
	return out, nil
}

// Shutdown cancels retries, unregisters every live handle and waits for
// watchers and in-flight calls until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		e := m.acquire(id)
		m.cancelRetry(e)
		if err := m.unregisterLocked(ctx, e); err != nil {
			m.log.Warn("unregister on shutdown", "client_id", id, "error", err)
		}
		m.release(e)
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func credentials(c clients.Client) telephony.Credentials {
	return telephony.Credentials{
		ClientID: c.ID,
		Server:   c.SIP.Server,
		Domain:   c.SIP.Domain,
		Username: c.SIP.Username,
		Password: c.SIP.Password,
		Interval: time.Duration(c.SIP.RegInterval) * time.Second,
	}
}

func (m *Manager) registerLocked(ctx context.Context, e *entry, client clients.Client) error {
	log := m.log.With("client_id", client.ID)

	m.cancelRetry(e)
	if e.reg != nil {
		if err := m.unregisterLocked(ctx, e); err != nil {
			log.Warn("unregister before re-register failed", "error", err)
		}
	}

	if err := m.store.SetClientStatus(ctx, client.ID, clients.StatusRegistering, msgRegistering); err != nil {
		return err
	}
	m.fire(e, evRegister)

	reg, err := m.transport.Register(ctx, credentials(client))
	if err != nil {
		m.metrics.RegistrationAttempt(false)
		m.fire(e, evFail)
		log.Warn("registration failed", "error", err, "retry_in", m.cfg.RetryDelay)
		m.scheduleRetry(e, m.cfg.RetryDelay)
		return m.store.SetClientStatus(ctx, client.ID, clients.StatusFailed, err.Error())
	}

	m.metrics.RegistrationAttempt(true)
	m.setLive(e, reg)
	m.fire(e, evSucceed)
	log.Info("registration successful", "user", client.SIP.Username, "server", client.SIP.Server)

	m.wg.Add(1)
	go m.watch(client, reg)

	return m.store.SetClientStatus(ctx, client.ID, clients.StatusActive, msgRegistered)
}

// unregisterLocked drops the live handle before asking the transport, so a
// late remote-drop event for it is ignored.
func (m *Manager) unregisterLocked(ctx context.Context, e *entry) error {
	reg := e.reg
	if reg == nil {
		return nil
	}
	m.setLive(e, nil)
	m.fire(e, evUnregister)
	err := reg.Unregister(ctx)
	m.fire(e, evRelease)
	return err
}

func (m *Manager) cancelRetry(e *entry) {
	if e.retry != nil {
		e.retry.timer.Stop()
		e.retry = nil
	}
}

func (m *Manager) scheduleRetry(e *entry, delay time.Duration) {
	if m.ctx.Err() != nil {
		return
	}
	task := &retryTask{}
	id := e.id
	task.timer = m.sched.AfterFunc(delay, func() { m.runRetry(id, task) })
	e.retry = task
}

func (m *Manager) runRetry(id string, task *retryTask) {
	e := m.acquire(id)
	defer m.release(e)

	if e.retry != task {
		return
	}
	e.retry = nil
	if m.ctx.Err() != nil {
		return
	}

	client, err := m.store.GetClient(m.ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		m.log.Info("client gone, retry dropped", "client_id", id)
		m.resetFailed(e)
		return
	}
	if err != nil {
		m.log.Error("reload client for retry", "client_id", id, "error", err)
		m.scheduleRetry(e, m.cfg.RetryDelay)
		return
	}
	if err := m.registerLocked(m.ctx, e, client); err != nil {
		m.log.Error("retry registration", "client_id", id, "error", err)
	}
}

// watch forwards inbound calls until the registration ends. A closed channel
// without an explicit event counts as a remote drop.
func (m *Manager) watch(client clients.Client, reg telephony.Registration) {
	defer m.wg.Done()
	for ev := range reg.Events() {
		switch ev.Type {
		case telephony.EventInvite:
			m.dispatch(client, ev.Invite)
		case telephony.EventUnregistered:
			m.remoteDrop(client.ID, reg, ev.Err)
			return
		}
	}
	m.remoteDrop(client.ID, reg, nil)
}

func (m *Manager) dispatch(client clients.Client, inv telephony.Invite) {
	if m.invites == nil {
		_ = inv.Reject(m.ctx, 503, "Service Unavailable")
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.invites.HandleInvite(m.ctx, client, inv)
	}()
}

func (m *Manager) remoteDrop(id string, reg telephony.Registration, cause error) {
	e := m.acquire(id)
	defer m.release(e)

	if e.reg != reg {
		return
	}
	m.setLive(e, nil)
	m.fire(e, evDrop)
	m.metrics.RegistrationDropped()
	m.log.Warn("registration terminated by remote", "client_id", id, "error", cause, "reregister_in", m.cfg.ReregisterDelay)

	if err := m.store.SetClientStatus(m.ctx, id, clients.StatusInactive, msgTerminated); err != nil {
		m.log.Error("persist inactive status", "client_id", id, "error", err)
	}
	m.scheduleRetry(e, m.cfg.ReregisterDelay)
}
