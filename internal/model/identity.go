// Package model defines the data structures shared by peers and the
// persistence server.
package model

import "net/url"

// Theme is the display theme stored on an identity.
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
	ThemeNeon  Theme = "neon"
)

// Identity is a user's peer-local profile. Timestamps are unix milliseconds.
type Identity struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
	Theme     Theme  `json:"theme,omitempty"`
	JoinedAt  int64  `json:"joinedAt"`
}

// AssistantIdentity is the participant record of the built-in AI companion.
func AssistantIdentity(joinedAt int64) Identity {
	return Identity{
		ID:        AssistantID,
		Name:      AssistantName,
		AvatarURL: "https://picsum.photos/seed/aura-ai/100/100",
		Theme:     ThemeDark,
		JoinedAt:  joinedAt,
	}
}

const (
	// AssistantID is the sender id of AI companion messages.
	AssistantID = "aura-ai"
	// AssistantName is the display name of the AI companion.
	AssistantName = "Aura AI"
)

// DefaultAvatarURL returns the generated avatar used for an identity that
// has not chosen one.
func DefaultAvatarURL(seed string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + url.QueryEscape(seed)
}
