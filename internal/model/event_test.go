package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEvent_FlatTaggedShape(t *testing.T) {
	data, err := EncodeEvent(&TypingEvent{UserID: "mira_x1", ConversationID: "bob_y2--mira_x1", IsTyping: true})
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "TYPING", raw["type"])
	assert.Equal(t, "mira_x1", raw["userId"])
	assert.Equal(t, "bob_y2--mira_x1", raw["conversationId"])
	assert.Equal(t, true, raw["isTyping"])
}

func TestDecodeEvent_Message(t *testing.T) {
	in := []byte(`{"type":"MESSAGE","conversationId":"bob--mira","message":{"id":"m1","senderId":"mira","senderName":"Mira","text":"hi","timestamp":42,"type":"text"}}`)

	ev, err := DecodeEvent(in)
	require.NoError(t, err)

	msg, ok := ev.(*MessageEvent)
	require.True(t, ok, "expected *MessageEvent, got %T", ev)
	assert.Equal(t, "bob--mira", msg.ConversationID)
	assert.Equal(t, "m1", msg.Message.ID)
	assert.Equal(t, "hi", msg.Message.Text)
	assert.Equal(t, int64(42), msg.Message.Timestamp)
}

func TestDecodeEvent_Presence(t *testing.T) {
	data, err := EncodeEvent(&PresenceEvent{User: Identity{ID: "mira_a", Name: "Mira", JoinedAt: 7}})
	require.NoError(t, err)

	ev, err := DecodeEvent(data)
	require.NoError(t, err)
	p, ok := ev.(*PresenceEvent)
	require.True(t, ok)
	assert.Equal(t, "mira_a", p.User.ID)
	assert.Equal(t, EventTypePresence, p.EventType())
}

func TestDecodeEvent_UnknownTag(t *testing.T) {
	_, err := DecodeEvent([]byte(`{"type":"FRIEND_REQUEST","request":{}}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeEvent_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", `hello`},
		{"wrong field type", `{"type":"TYPING","isTyping":"yes"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.data))
			assert.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestConversationClone_IsDeep(t *testing.T) {
	c := Conversation{
		ID:       "a--b",
		Messages: []Message{{ID: "1"}},
	}
	c.LastMessage = &c.Messages[0]

	cp := c.Clone()
	cp.Messages[0].Text = "changed"
	cp.LastMessage.Text = "changed"

	assert.Empty(t, c.Messages[0].Text)
	assert.True(t, cp.HasMessage("1"))
	assert.False(t, cp.HasMessage("2"))
}

func TestValidateText(t *testing.T) {
	assert.Error(t, ValidateText(""))
	assert.Error(t, ValidateText(string([]byte{0xff, 0xfe})))
	assert.NoError(t, ValidateText("hi"))
}
