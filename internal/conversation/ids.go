package conversation

import (
	"sort"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// IDSeparator joins the participant ids of a DM conversation.
const IDSeparator = "--"

// DMConversationID returns the id both participants derive independently:
// the two ids sorted lexicographically and joined by IDSeparator.
func DMConversationID(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, IDSeparator)
}

// ReferencesParticipant reports whether conversationID names id as one of
// its two DM participants.
func ReferencesParticipant(conversationID, id string) bool {
	if id == "" {
		return false
	}
	return strings.HasPrefix(conversationID, id+IDSeparator) ||
		strings.HasSuffix(conversationID, IDSeparator+id)
}

// Slugify lowercases name and replaces each run of whitespace with "-".
func Slugify(name string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(strings.TrimSpace(name)), unicode.IsSpace), "-")
}

// NewSessionSuffix returns a short random suffix distinguishing one running
// session of a stored identity from another.
func NewSessionSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// SessionID appends a session suffix to a stored profile id.
func SessionID(profileID, suffix string) string {
	return profileID + "_" + suffix
}

// NewMessageID returns a time-ordered unique message id.
func NewMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}
