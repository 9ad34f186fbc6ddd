package model

import (
	"errors"
	"unicode/utf8"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeSystem MessageType = "system"
)

// MessageStatus is the optional delivery status shown to the sender.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// MaxTextLength bounds message text in bytes.
const MaxTextLength = 100000

// Message is a single immutable chat message. ID is unique per conversation
// and generated by the sending peer.
type Message struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"senderId"`
	SenderName string        `json:"senderName"`
	Text       string        `json:"text"`
	Timestamp  int64         `json:"timestamp"`
	Type       MessageType   `json:"type"`
	Status     MessageStatus `json:"status,omitempty"`
}

// StoredMessage is a message as recorded by the persistence server.
type StoredMessage struct {
	Message
	ConversationID string `json:"conversationId"`
}

// ValidateText checks outgoing message text.
func ValidateText(text string) error {
	if len(text) == 0 {
		return errors.New("content cannot be empty")
	}
	if len(text) > MaxTextLength {
		return errors.New("content exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("content must be valid UTF-8")
	}
	return nil
}
