package telephony

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRegistrationRejected means the registrar answered REGISTER with a
	// final non-2xx response.
	ErrRegistrationRejected = errors.New("telephony: registration rejected")
	// ErrTelephony covers signalling and media failures.
	ErrTelephony = errors.New("telephony: signalling failure")
	// ErrCallEnded is returned by media operations after the caller hung up.
	ErrCallEnded = errors.New("telephony: call ended by remote party")
)

// Credentials identify one client at its registrar.
type Credentials struct {
	ClientID string
	Server   string
	Domain   string
	Username string
	Password string
	Interval time.Duration
}

// Transport registers identities with remote registrars.
//
// Rules:
//   - No SIP library calls outside telephony adapters.
//   - Register blocks until the registrar answered or ctx is done.
type Transport interface {
	Register(ctx context.Context, creds Credentials) (Registration, error)
}

// Registration is a live registration handle.
//
// Events delivers inbound invites and the remote-unregistration signal. The
// channel is closed after Unregister returns or after EventUnregistered was
// delivered; no event follows EventUnregistered.
type Registration interface {
	Events() <-chan Event
	Unregister(ctx context.Context) error
}

type EventType int

const (
	EventInvite EventType = iota + 1
	EventUnregistered
)

type Event struct {
	Type   EventType
	Invite Invite
	// Err explains an EventUnregistered.
	Err error
}

// Invite is one inbound call offer.
type Invite interface {
	CallID() string
	From() string
	To() string

	// Answer allocates media, sends 200 OK with an SDP answer and returns the
	// connected endpoint.
	Answer(ctx context.Context) (MediaEndpoint, error)
	// Reject sends a final error response. It is a no-op once a final
	// response was sent.
	Reject(ctx context.Context, code int, reason string) error
	// Responded reports whether a final response was sent.
	Responded() bool
	// Hangup ends an answered call from our side.
	Hangup(ctx context.Context) error
	// Done is closed when the caller ended the call.
	Done() <-chan struct{}
}

// RecordLimits bound one recording.
type RecordLimits struct {
	MaxDuration    time.Duration
	SilenceTimeout time.Duration
}

type Recording struct {
	Path     string
	Duration time.Duration
}

// MediaEndpoint is the media leg of an answered call.
type MediaEndpoint interface {
	// Address is the local RTP address advertised in the SDP answer.
	Address() RTPAddress
	Record(ctx context.Context, path string, limits RecordLimits) (Recording, error)
	Play(ctx context.Context, path string) error
	Close(ctx context.Context) error
}

type RTPAddress struct {
	IP      string
	Port    int
	Formats []string
}

// ConnectRequest asks the media server for an endpoint facing the caller.
type ConnectRequest struct {
	CallID string
	Remote RTPAddress
}

type MediaServer interface {
	Connect(ctx context.Context, req ConnectRequest) (MediaEndpoint, error)
}
