package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType is the tag of a realtime event on the wire.
type EventType string

const (
	EventTypePresence EventType = "PRESENCE"
	EventTypeMessage  EventType = "MESSAGE"
	EventTypeTyping   EventType = "TYPING"
)

var (
	// ErrMalformedEvent is returned when an event cannot be decoded.
	ErrMalformedEvent = errors.New("malformed realtime event")
	// ErrUnknownEvent is returned for a well-formed event with an unrecognized tag.
	ErrUnknownEvent = errors.New("unknown realtime event type")
)

// Event is the closed set of realtime events exchanged between peers:
// *PresenceEvent, *MessageEvent and *TypingEvent.
type Event interface {
	EventType() EventType
	sealed()
}

// PresenceEvent announces a live identity.
type PresenceEvent struct {
	User Identity `json:"user"`
}

// MessageEvent carries a message for a conversation.
type MessageEvent struct {
	ConversationID string  `json:"conversationId"`
	Message        Message `json:"message"`
}

// TypingEvent signals a user started or stopped typing in a conversation.
type TypingEvent struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

func (*PresenceEvent) EventType() EventType { return EventTypePresence }
func (*MessageEvent) EventType() EventType  { return EventTypeMessage }
func (*TypingEvent) EventType() EventType   { return EventTypeTyping }

func (*PresenceEvent) sealed() {}
func (*MessageEvent) sealed()  {}
func (*TypingEvent) sealed()   {}

// EncodeEvent serializes an event as a flat JSON object with a "type" tag,
// e.g. {"type":"TYPING","userId":"...","conversationId":"...","isTyping":true}.
func EncodeEvent(e Event) ([]byte, error) {
	var wire any
	switch ev := e.(type) {
	case *PresenceEvent:
		wire = struct {
			Type EventType `json:"type"`
			*PresenceEvent
		}{EventTypePresence, ev}
	case *MessageEvent:
		wire = struct {
			Type EventType `json:"type"`
			*MessageEvent
		}{EventTypeMessage, ev}
	case *TypingEvent:
		wire = struct {
			Type EventType `json:"type"`
			*TypingEvent
		}{EventTypeTyping, ev}
	default:
		return nil, fmt.Errorf("encode %T: %w", e, ErrUnknownEvent)
	}
	return json.Marshal(wire)
}

// DecodeEvent parses a tagged JSON event. Unknown tags yield ErrUnknownEvent;
// anything unparseable yields ErrMalformedEvent.
func DecodeEvent(data []byte) (Event, error) {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var (
		ev  Event
		err error
	)
	switch envelope.Type {
	case EventTypePresence:
		var p PresenceEvent
		err = json.Unmarshal(data, &p)
		ev = &p
	case EventTypeMessage:
		var m MessageEvent
		err = json.Unmarshal(data, &m)
		ev = &m
	case EventTypeTyping:
		var t TypingEvent
		err = json.Unmarshal(data, &t)
		ev = &t
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrMalformedEvent, envelope.Type, err)
	}
	return ev, nil
}
