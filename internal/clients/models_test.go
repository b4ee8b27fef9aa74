package clients

import (
	"errors"
	"testing"
)

func TestNormalizeDefaults(t *testing.T) {
	c := Client{Name: " acme ", SIP: SIPConfig{Server: "pbx", Domain: "d", Username: "u"}}
	c.Normalize()
	if c.Name != "acme" {
		t.Fatalf("expected trimmed name, got %q", c.Name)
	}
	if c.SIP.RegInterval != DefaultRegInterval || c.AI.MaxTurns != DefaultMaxTurns {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.Status != StatusUnregistered {
		t.Fatalf("expected unregistered status, got %q", c.Status)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	c := Client{}
	c.Normalize()
	if err := c.Validate(); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("expected ErrInvalidClient, got %v", err)
	}
}

func TestValidateRejectsTinyMaxTurns(t *testing.T) {
	c := Client{Name: "a", SIP: SIPConfig{Server: "s", Domain: "d", Username: "u"}, AI: AIConfig{MaxTurns: 1}}
	c.Normalize()
	if err := c.Validate(); !errors.Is(err, ErrInvalidClient) {
		t.Fatalf("expected ErrInvalidClient, got %v", err)
	}
}

func TestRedactedDropsPassword(t *testing.T) {
	c := Client{SIP: SIPConfig{Password: "pw"}}
	if c.Redacted().SIP.Password != "" {
		t.Fatalf("password leaked")
	}
	if c.SIP.Password != "pw" {
		t.Fatalf("original mutated")
	}
}
