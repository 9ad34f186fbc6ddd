package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/aura-chat/peernet/internal/model"
)

const maxIDLength = 256

// ValidateID validates a user or conversation identifier.
func ValidateID(kind, id string) error {
	if len(id) == 0 {
		return errors.New(kind + " cannot be empty")
	}
	if len(id) > maxIDLength {
		return errors.New(kind + " exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New(kind + " must be valid UTF-8")
	}
	return nil
}

// ValidateConversationID validates a conversation ID.
func ValidateConversationID(id string) error {
	return ValidateID("conversation ID", id)
}

// ValidateUserID validates a user ID.
func ValidateUserID(id string) error {
	return ValidateID("user ID", id)
}

// ValidateUserName validates a display name.
func ValidateUserName(name string) error {
	if len(name) == 0 {
		return errors.New("name cannot be empty")
	}
	if len(name) > 128 {
		return errors.New("name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("name must be valid UTF-8")
	}
	return nil
}

// ValidateMessage validates a message submitted for storage.
func ValidateMessage(msg model.StoredMessage) error {
	if err := ValidateConversationID(msg.ConversationID); err != nil {
		return err
	}
	if err := ValidateID("message ID", msg.ID); err != nil {
		return err
	}
	if err := ValidateUserID(msg.SenderID); err != nil {
		return err
	}
	return model.ValidateText(msg.Text)
}
