package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/persistence"
	"github.com/aura-chat/peernet/internal/repository"
)

func newTestRouter(t *testing.T, repo repository.Repository) http.Handler {
	t.Helper()
	return NewRouter(RouterConfig{Repository: repo})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func storedMessage(conv, id string, ts int64) model.StoredMessage {
	return model.StoredMessage{
		ConversationID: conv,
		Message: model.Message{
			ID:         id,
			SenderID:   "mira_1a2b3c4d",
			SenderName: "Mira",
			Text:       "hello " + id,
			Timestamp:  ts,
		},
	}
}

func TestSyncUserCreatesThenKeepsJoinedAt(t *testing.T) {
	h := newTestRouter(t, repository.NewMemory())

	rec := doJSON(t, h, http.MethodPost, "/api/sync-user", map[string]string{
		"id": "mira", "name": "Mira", "avatarUrl": "https://example.com/a.png",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created model.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "mira", created.ID)
	assert.NotZero(t, created.JoinedAt)

	rec = doJSON(t, h, http.MethodPost, "/api/sync-user", map[string]string{
		"id": "mira", "name": "Mira R",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var updated model.Identity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "Mira R", updated.Name)
	assert.Equal(t, "https://example.com/a.png", updated.AvatarURL)
	assert.Equal(t, created.JoinedAt, updated.JoinedAt)
}

func TestSyncUserRejectsBadInput(t *testing.T) {
	h := newTestRouter(t, repository.NewMemory())

	tests := []struct {
		name string
		body any
	}{
		{"missing id", map[string]string{"name": "Mira"}},
		{"missing name", map[string]string{"id": "mira"}},
		{"not an object", "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/sync-user", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestMessagesRoundTripOrderedAndIdempotent(t *testing.T) {
	h := newTestRouter(t, repository.NewMemory())

	for _, m := range []model.StoredMessage{
		storedMessage("a--b", "m2", 200),
		storedMessage("a--b", "m1", 100),
		storedMessage("a--b", "m2", 200),
		storedMessage("other", "x", 50),
	} {
		rec := doJSON(t, h, http.MethodPost, "/api/messages", m)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, h, http.MethodGet, "/api/messages/a--b", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var msgs []model.Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, model.MessageTypeText, msgs[0].Type)
}

func TestListUnknownConversationIsEmptyArray(t *testing.T) {
	h := newTestRouter(t, repository.NewMemory())

	rec := doJSON(t, h, http.MethodGet, "/api/messages/nobody--here", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestCreateMessageValidation(t *testing.T) {
	h := newTestRouter(t, repository.NewMemory())

	m := storedMessage("a--b", "m1", 1)
	m.Text = ""
	rec := doJSON(t, h, http.MethodPost, "/api/messages", m)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	m = storedMessage("", "m1", 1)
	rec = doJSON(t, h, http.MethodPost, "/api/messages", m)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type failingRepo struct{ repository.Repository }

func (failingRepo) ListMessages(context.Context, string) ([]model.Message, error) {
	return nil, errors.New("disk on fire")
}

func (failingRepo) Ping(context.Context) error { return errors.New("disk on fire") }

func TestStoreFailuresReturnServerError(t *testing.T) {
	h := newTestRouter(t, failingRepo{repository.NewMemory()})

	rec := doJSON(t, h, http.MethodGet, "/api/messages/a--b", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")

	rec = doJSON(t, h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndCorrelationHeader(t *testing.T) {
	h := newTestRouter(t, repository.NewMemory())

	rec := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = doJSON(t, h, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := NewRouter(RouterConfig{
		Repository:        repository.NewMemory(),
		RateLimitRequests: 2,
		RateLimitWindow:   time.Minute,
	})

	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodGet, "/api/messages/a--b", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := doJSON(t, h, http.MethodGet, "/api/messages/a--b", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestHTTPGatewayAgainstServer(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t, repository.NewMemory()))
	t.Cleanup(srv.Close)

	gw := persistence.NewHTTPGateway(srv.URL+"/api", nil)
	ctx := context.Background()

	synced, err := gw.SyncIdentity(ctx, model.Identity{ID: "mira", Name: "Mira"})
	require.NoError(t, err)
	assert.NotZero(t, synced.JoinedAt)

	conv := "bob_00000001--mira_00000002"
	gw.AppendMessage(ctx, conv, storedMessage(conv, "m1", 10).Message)
	gw.AppendMessage(ctx, conv, storedMessage(conv, "m1", 10).Message)

	got := gw.FetchMessages(ctx, conv)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].ID)
}
