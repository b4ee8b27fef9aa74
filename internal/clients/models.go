package clients

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	// StatusUnregistered means an operator stopped the registration; startup skips it.
	StatusUnregistered Status = "unregistered"
	StatusRegistering  Status = "registering"
	StatusActive       Status = "active"
	StatusFailed       Status = "failed"
	// StatusInactive is written after the registrar dropped a live registration.
	StatusInactive Status = "inactive"
)

const (
	DefaultRegInterval = 3600
	DefaultMaxTurns    = 10
	MinMaxTurns        = 2
)

var ErrInvalidClient = errors.New("clients: invalid client")

// SIPConfig is the signalling identity a client registers with.
type SIPConfig struct {
	Server      string `json:"sip_server"`
	Domain      string `json:"sip_domain"`
	Username    string `json:"sip_username"`
	Password    string `json:"sip_password,omitempty"`
	RegInterval int    `json:"reg_interval"`
}

// AIConfig drives one client's conversation loop.
type AIConfig struct {
	SystemPrompt       string `json:"system_prompt"`
	TranscriptionModel string `json:"transcription_model"`
	LLMModel           string `json:"llm_model"`
	VoiceID            string `json:"voice_id"`
	GreetingFile       string `json:"greeting_file"`
	GoodbyeFile        string `json:"goodbye_file"`
	// MaxTurns caps the number of conversation entries (user and assistant
	// each count as one).
	MaxTurns int `json:"max_turns"`
}

type Client struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	SIP           SIPConfig `json:"sip"`
	AI            AIConfig  `json:"ai"`
	Status        Status    `json:"status"`
	StatusMessage string    `json:"status_message"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Normalize trims fields and fills defaults.
func (c *Client) Normalize() {
	c.Name = strings.TrimSpace(c.Name)
	c.SIP.Server = strings.TrimSpace(c.SIP.Server)
	c.SIP.Domain = strings.TrimSpace(c.SIP.Domain)
	c.SIP.Username = strings.TrimSpace(c.SIP.Username)
	if c.SIP.RegInterval == 0 {
		c.SIP.RegInterval = DefaultRegInterval
	}
	if c.AI.MaxTurns == 0 {
		c.AI.MaxTurns = DefaultMaxTurns
	}
	if c.Status == "" {
		c.Status = StatusUnregistered
	}
}

func (c Client) Validate() error {
	var missing []string
	if c.Name == "" {
		missing = append(missing, "name")
	}
	if c.SIP.Server == "" {
		missing = append(missing, "sip_server")
	}
	if c.SIP.Domain == "" {
		missing = append(missing, "sip_domain")
	}
	if c.SIP.Username == "" {
		missing = append(missing, "sip_username")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidClient, strings.Join(missing, ", "))
	}
	if c.SIP.RegInterval < 0 {
		return fmt.Errorf("%w: reg_interval must be positive", ErrInvalidClient)
	}
	if c.AI.MaxTurns < MinMaxTurns {
		return fmt.Errorf("%w: max_turns must be at least %d", ErrInvalidClient, MinMaxTurns)
	}
	return nil
}

// Redacted returns a copy safe to serialize to API callers.
func (c Client) Redacted() Client {
	c.SIP.Password = ""
	return c
}

// RegisterOnStartup reports whether startup should bring this client up.
func (c Client) RegisterOnStartup() bool {
	return c.Status != StatusUnregistered
}
