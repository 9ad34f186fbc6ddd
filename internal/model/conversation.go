package model

// ConversationType distinguishes AI, direct and group threads.
type ConversationType string

const (
	ConversationAI    ConversationType = "ai"
	ConversationDM    ConversationType = "dm"
	ConversationGroup ConversationType = "group"
)

// AssistantConversationID is the id of the singleton AI conversation.
const AssistantConversationID = "aura-ai-main"

// Conversation is an ordered thread of messages between a fixed set of
// participants. Messages never contain two entries with the same ID.
type Conversation struct {
	ID                 string           `json:"id"`
	Type               ConversationType `json:"type"`
	Participants       []string         `json:"participants"`
	ParticipantDetails []Identity       `json:"participantDetails"`
	Messages           []Message        `json:"messages"`
	LastMessage        *Message         `json:"lastMessage,omitempty"`
	UnreadCount        int              `json:"unreadCount"`
}

// IsPeerToPeer reports whether messages in this conversation are shared with
// other peers over the realtime channel.
func (c *Conversation) IsPeerToPeer() bool {
	return c.Type == ConversationDM || c.Type == ConversationGroup
}

// HasMessage reports whether a message with the given id is present.
func (c *Conversation) HasMessage(id string) bool {
	for i := range c.Messages {
		if c.Messages[i].ID == id {
			return true
		}
	}
	return false
}

// Partner returns the first participant that is not selfID.
func (c *Conversation) Partner(selfID string) (Identity, bool) {
	for _, p := range c.ParticipantDetails {
		if p.ID != selfID {
			return p, true
		}
	}
	return Identity{}, false
}

// Clone returns a deep copy safe to hand out of a locked store.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]string(nil), c.Participants...)
	out.ParticipantDetails = append([]Identity(nil), c.ParticipantDetails...)
	out.Messages = append([]Message(nil), c.Messages...)
	if c.LastMessage != nil {
		last := *c.LastMessage
		out.LastMessage = &last
	}
	return out
}
