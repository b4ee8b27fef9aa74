package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"voice-gateway/internal/config"
)

const (
	eventBuffer        = 64
	defaultSIPPort     = 5060
	statusNotFound     = 404
	statusProxyAuth    = 407
	refreshNumerator   = 9
	refreshDenominator = 10
)

// SIPTransport is the sipgo-backed Transport. One user agent serves every
// registered client; inbound INVITEs are routed by request-URI user.
type SIPTransport struct {
	cfg    config.SIPConfig
	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server
	media  MediaServer
	log    *slog.Logger

	mu     sync.Mutex
	byUser map[string]*sipRegistration
	calls  map[string]*sipInvite
}

func NewSIPTransport(cfg config.SIPConfig, media MediaServer, log *slog.Logger) (*SIPTransport, error) {
	if media == nil {
		return nil, errors.New("telephony: media server is required")
	}
	if log == nil {
		log = slog.Default()
	}
	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(cfg.UserAgent),
		sipgo.WithUserAgentHostname(cfg.PublicHost),
	)
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(cfg.PublicHost))
	if err != nil {
		_ = ua.Close()
		return nil, fmt.Errorf("create sip client: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		_ = ua.Close()
		return nil, fmt.Errorf("create sip server: %w", err)
	}

	t := &SIPTransport{
		cfg:    cfg,
		ua:     ua,
		client: client,
		server: server,
		media:  media,
		log:    log.With("subsystem", "sip"),
		byUser: make(map[string]*sipRegistration),
		calls:  make(map[string]*sipInvite),
	}
	server.OnInvite(t.handleInvite)
	server.OnBye(t.handleBye)
	server.OnAck(func(req *sip.Request, tx sip.ServerTransaction) {})
	server.OnOptions(func(req *sip.Request, tx sip.ServerTransaction) {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	})
	return t, nil
}

// ListenAndServe blocks until ctx is cancelled or the listener fails.
func (t *SIPTransport) ListenAndServe(ctx context.Context) error {
	t.log.Info("sip listener starting", "transport", t.cfg.Transport, "addr", t.cfg.ListenAddr)
	return t.server.ListenAndServe(ctx, t.cfg.Transport, t.cfg.ListenAddr)
}

func (t *SIPTransport) Close() error {
	return t.ua.Close()
}

func (t *SIPTransport) Register(ctx context.Context, creds Credentials) (Registration, error) {
	if creds.Username == "" || creds.Server == "" {
		return nil, fmt.Errorf("%w: username and server are required", ErrTelephony)
	}
	reg := &sipRegistration{
		t:        t,
		creds:    creds,
		callID:   uuid.NewString(),
		fromTag:  uuid.NewString()[:8],
		events:   make(chan Event, eventBuffer),
		stop:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	if err := t.reserve(reg); err != nil {
		return nil, err
	}
	granted, err := reg.send(ctx, creds.Interval)
	if err != nil {
		t.forget(reg)
		return nil, err
	}

	t.log.Info("registered", "client_id", creds.ClientID, "user", creds.Username, "server", creds.Server, "expires", granted)
	go reg.refreshLoop(granted)
	return reg, nil
}

// reserve claims reg's username before the REGISTER goes out, so two clients
// racing for one user cannot both reach the registrar.
func (t *SIPTransport) reserve(reg *sipRegistration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	user := reg.creds.Username
	if other, ok := t.byUser[user]; ok && other.creds.ClientID != reg.creds.ClientID {
		return fmt.Errorf("%w: user %q is already registered by client %s", ErrTelephony, user, other.creds.ClientID)
	}
	t.byUser[user] = reg
	return nil
}

func (t *SIPTransport) forget(reg *sipRegistration) {
	t.mu.Lock()
	if t.byUser[reg.creds.Username] == reg {
		delete(t.byUser, reg.creds.Username)
	}
	t.mu.Unlock()
}

func (t *SIPTransport) lookup(req *sip.Request) *sipRegistration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if reg, ok := t.byUser[req.Recipient.User]; ok {
		return reg
	}
	if to := req.To(); to != nil {
		return t.byUser[to.Address.User]
	}
	return nil
}

func (t *SIPTransport) contact(user string) *sip.ContactHeader {
	return &sip.ContactHeader{Address: sip.Uri{
		Scheme: "sip",
		User:   user,
		Host:   t.cfg.PublicHost,
		Port:   t.cfg.PublicPort,
	}}
}

func (t *SIPTransport) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if h := req.CallID(); h != nil {
		callID = h.Value()
	}
	log := t.log.With("call_id", callID, "from", req.From().Address.User, "to", req.Recipient.User)

	reg := t.lookup(req)
	if reg == nil {
		log.Warn("invite for unknown user")
		_ = tx.Respond(sip.NewResponseFromRequest(req, statusNotFound, "Not Found", nil))
		return
	}
	if err := tx.Respond(sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)); err != nil {
		log.Error("failed to send 100 Trying", "error", err)
		return
	}

	inv := &sipInvite{
		t:     t,
		req:   req,
		tx:    tx,
		id:    callID,
		log:   log,
		toTag: uuid.NewString()[:8],
		final: make(chan struct{}),
		ended: make(chan struct{}),
	}
	t.mu.Lock()
	t.calls[callID] = inv
	t.mu.Unlock()

	if !reg.deliver(Event{Type: EventInvite, Invite: inv}) {
		log.Warn("invite queue full, rejecting")
		_ = inv.Reject(context.Background(), sip.StatusServiceUnavailable, "Service Unavailable")
		return
	}

	// Keep the transaction handler alive until the session decided.
	select {
	case <-inv.final:
	case <-tx.Done():
		inv.remoteEnded()
	}
}

func (t *SIPTransport) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := ""
	if h := req.CallID(); h != nil {
		callID = h.Value()
	}
	t.mu.Lock()
	inv, ok := t.calls[callID]
	delete(t.calls, callID)
	t.mu.Unlock()

	if !ok {
		_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil))
		return
	}
	_ = tx.Respond(sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil))
	inv.log.Info("caller hung up")
	inv.remoteEnded()
}

func (t *SIPTransport) untrack(inv *sipInvite) {
	t.mu.Lock()
	if t.calls[inv.id] == inv {
		delete(t.calls, inv.id)
	}
	t.mu.Unlock()
}

type sipRegistration struct {
	t        *SIPTransport
	creds    Credentials
	callID   string
	fromTag  string
	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
	loopDone chan struct{}

	sendMu sync.Mutex
	cseq   uint32

	mu     sync.Mutex
	closed bool
}

func (r *sipRegistration) Events() <-chan Event { return r.events }

func (r *sipRegistration) Unregister(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.loopDone
	r.t.forget(r)
	defer r.closeEvents()

	if _, err := r.send(ctx, 0); err != nil {
		return err
	}
	r.t.log.Info("unregistered", "client_id", r.creds.ClientID, "user", r.creds.Username)
	return nil
}

// deliver never blocks; false means the event was dropped.
func (r *sipRegistration) deliver(ev Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.events <- ev:
		return true
	default:
		return false
	}
}

func (r *sipRegistration) closeEvents() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
}

// drop reports a remote unregistration. A consumer that misses the event
// because the buffer was full still observes the closed channel.
func (r *sipRegistration) drop(err error) {
	r.t.forget(r)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- Event{Type: EventUnregistered, Err: err}:
	default:
	}
	r.closed = true
	close(r.events)
}

func (r *sipRegistration) refreshLoop(expires time.Duration) {
	defer close(r.loopDone)
	for {
		timer := time.NewTimer(refreshAfter(expires))
		select {
		case <-r.stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.t.cfg.RegisterTimeout)
		granted, err := r.send(ctx, r.creds.Interval)
		cancel()
		if err != nil {
			r.t.log.Warn("registration refresh failed", "client_id", r.creds.ClientID, "error", err)
			r.drop(err)
			return
		}
		expires = granted
	}
}

// send performs one REGISTER transaction, answering a digest challenge if
// the registrar asks for one, and returns the granted interval.
func (r *sipRegistration) send(ctx context.Context, expires time.Duration) (time.Duration, error) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	if r.t.cfg.RegisterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.t.cfg.RegisterTimeout)
		defer cancel()
	}

	req, err := r.buildRegister(expires)
	if err != nil {
		return 0, err
	}
	res, err := r.t.client.Do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("%w: register %s: %w", ErrTelephony, r.creds.Server, err)
	}
	if res.StatusCode == sip.StatusUnauthorized || res.StatusCode == statusProxyAuth {
		res, err = r.t.client.DoDigestAuth(ctx, req, res, sipgo.DigestAuth{
			Username: r.creds.Username,
			Password: r.creds.Password,
		})
		if err != nil {
			return 0, fmt.Errorf("%w: register %s: %w", ErrTelephony, r.creds.Server, err)
		}
		if cseq := req.CSeq(); cseq != nil {
			r.cseq = cseq.SeqNo
		}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: %d %s", ErrRegistrationRejected, res.StatusCode, res.Reason)
	}
	return grantedExpiry(res, expires), nil
}

func (r *sipRegistration) buildRegister(expires time.Duration) (*sip.Request, error) {
	host, port, err := splitServer(r.creds.Server)
	if err != nil {
		return nil, err
	}
	recipient := sip.Uri{Scheme: "sip", Host: host, Port: port}
	if tr := strings.ToLower(r.t.cfg.Transport); tr != "" && tr != "udp" {
		recipient.UriParams = sip.HeaderParams{"transport": tr}
	}
	domain := r.creds.Domain
	if domain == "" {
		domain = host
	}
	aor := sip.Uri{Scheme: "sip", User: r.creds.Username, Host: domain}

	r.cseq++
	req := sip.NewRequest(sip.REGISTER, recipient)
	req.AppendHeader(&sip.FromHeader{Address: aor, Params: sip.HeaderParams{"tag": r.fromTag}})
	req.AppendHeader(&sip.ToHeader{Address: aor, Params: sip.NewParams()})
	callID := sip.CallIDHeader(r.callID)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: r.cseq, MethodName: sip.REGISTER})
	maxFwd := sip.MaxForwardsHeader(70)
	req.AppendHeader(&maxFwd)
	req.AppendHeader(r.t.contact(r.creds.Username))
	exp := sip.ExpiresHeader(uint32(expires / time.Second))
	req.AppendHeader(&exp)
	cl := sip.ContentLengthHeader(0)
	req.AppendHeader(&cl)
	return req, nil
}

func grantedExpiry(res *sip.Response, requested time.Duration) time.Duration {
	if h := res.GetHeader("Expires"); h != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(h.Value())); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return requested
}

// refreshAfter re-registers at 90% of the granted interval.
func refreshAfter(expires time.Duration) time.Duration {
	d := expires * refreshNumerator / refreshDenominator
	if d < time.Second {
		d = time.Second
	}
	return d
}

func splitServer(server string) (string, int, error) {
	server = strings.TrimPrefix(strings.TrimPrefix(server, "sip:"), "sips:")
	if server == "" {
		return "", 0, fmt.Errorf("%w: empty registrar address", ErrTelephony)
	}
	host, portStr, err := net.SplitHostPort(server)
	if err != nil {
		// No port given.
		return server, defaultSIPPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("%w: invalid registrar port %q", ErrTelephony, portStr)
	}
	return host, port, nil
}

type sipInvite struct {
	t     *SIPTransport
	req   *sip.Request
	tx    sip.ServerTransaction
	id    string
	log   *slog.Logger
	toTag string

	mu        sync.Mutex
	responded bool
	answered  bool
	final     chan struct{}
	ended     chan struct{}
	endOnce   sync.Once
}

func (i *sipInvite) CallID() string { return i.id }

func (i *sipInvite) From() string {
	if h := i.req.From(); h != nil {
		return h.Address.User
	}
	return ""
}

func (i *sipInvite) To() string {
	if i.req.Recipient.User != "" {
		return i.req.Recipient.User
	}
	if h := i.req.To(); h != nil {
		return h.Address.User
	}
	return ""
}

func (i *sipInvite) Done() <-chan struct{} { return i.ended }

func (i *sipInvite) Responded() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.responded
}

func (i *sipInvite) remoteEnded() {
	i.endOnce.Do(func() { close(i.ended) })
	i.t.untrack(i)
}

func (i *sipInvite) Answer(ctx context.Context) (MediaEndpoint, error) {
	if i.Responded() {
		return nil, fmt.Errorf("%w: invite already has a final response", ErrTelephony)
	}
	remote, err := ParseOffer(i.req.Body())
	if err != nil {
		return nil, err
	}
	ep, err := i.t.media.Connect(ctx, ConnectRequest{CallID: i.id, Remote: remote})
	if err != nil {
		return nil, err
	}
	local := ep.Address()
	if local.IP == "" {
		local.IP = i.t.cfg.PublicHost
	}
	if len(local.Formats) == 0 {
		local.Formats = NegotiateFormats(remote.Formats)
	}
	body, err := BuildAnswer(local, uint64(time.Now().UnixNano()))
	if err != nil {
		_ = ep.Close(ctx)
		return nil, err
	}

	res := sip.NewResponseFromRequest(i.req, sip.StatusOK, "OK", body)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	res.AppendHeader(i.t.contact(i.To()))
	i.tagResponse(res)

	if err := i.respond(res); err != nil {
		_ = ep.Close(ctx)
		return nil, err
	}
	i.mu.Lock()
	i.answered = true
	i.mu.Unlock()
	i.log.Info("call answered", "rtp_ip", local.IP, "rtp_port", local.Port)
	return ep, nil
}

func (i *sipInvite) Reject(_ context.Context, code int, reason string) error {
	if i.Responded() {
		return nil
	}
	res := sip.NewResponseFromRequest(i.req, code, reason, nil)
	i.tagResponse(res)
	err := i.respond(res)
	i.t.untrack(i)
	return err
}

func (i *sipInvite) Hangup(ctx context.Context) error {
	i.mu.Lock()
	answered := i.answered
	i.mu.Unlock()
	if !answered {
		return fmt.Errorf("%w: call was not answered", ErrTelephony)
	}
	select {
	case <-i.ended:
		return nil
	default:
	}
	defer i.t.untrack(i)

	from := i.req.From()
	target := from.Address
	if c := i.req.Contact(); c != nil {
		target = c.Address
	}
	bye := sip.NewRequest(sip.BYE, target)
	bye.AppendHeader(&sip.FromHeader{Address: i.req.To().Address, Params: sip.HeaderParams{"tag": i.toTag}})
	to := &sip.ToHeader{Address: from.Address, Params: sip.NewParams()}
	if tag, ok := from.Params.Get("tag"); ok {
		to.Params.Add("tag", tag)
	}
	bye.AppendHeader(to)
	callID := sip.CallIDHeader(i.id)
	bye.AppendHeader(&callID)
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.BYE})
	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)
	bye.SetTransport(i.req.Transport())
	bye.SetDestination(i.req.Source())

	res, err := i.t.client.Do(ctx, bye)
	if err != nil {
		return fmt.Errorf("%w: bye: %w", ErrTelephony, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("%w: bye answered %d %s", ErrTelephony, res.StatusCode, res.Reason)
	}
	i.log.Info("call hung up")
	return nil
}

// tagResponse makes sure the response carries our dialog tag and records
// the tag actually used.
func (i *sipInvite) tagResponse(res *sip.Response) {
	to := res.To()
	if to == nil {
		return
	}
	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	if tag, ok := to.Params.Get("tag"); ok && tag != "" {
		i.toTag = tag
		return
	}
	to.Params.Add("tag", i.toTag)
}

func (i *sipInvite) respond(res *sip.Response) error {
	i.mu.Lock()
	if i.responded {
		i.mu.Unlock()
		return fmt.Errorf("%w: final response already sent", ErrTelephony)
	}
	i.responded = true
	i.mu.Unlock()
	defer close(i.final)

	if err := i.tx.Respond(res); err != nil {
		return fmt.Errorf("%w: respond %d: %w", ErrTelephony, res.StatusCode, err)
	}
	return nil
}
