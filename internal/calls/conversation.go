package calls

import "voice-gateway/internal/ai"

// Conversation is the in-memory context of one call, mirrored into
// interactions. MaxEntries bounds its length; each turn adds two entries.
type Conversation struct {
	maxEntries int
	entries    []ai.Message
}

func NewConversation(maxEntries int) *Conversation {
	return &Conversation{maxEntries: maxEntries}
}

func (c *Conversation) Append(speaker Speaker, content string) {
	c.entries = append(c.entries, ai.Message{Role: string(speaker), Content: content})
}

// Messages returns a copy of the entries so far.
func (c *Conversation) Messages() []ai.Message {
	return append([]ai.Message(nil), c.entries...)
}

func (c *Conversation) Len() int { return len(c.entries) }

// HasRoomForTurn reports whether one more user/assistant pair fits.
func (c *Conversation) HasRoomForTurn() bool {
	return len(c.entries)+2 <= c.maxEntries
}
