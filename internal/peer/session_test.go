package peer

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/persistence"
	"github.com/aura-chat/peernet/internal/snapshot"
)

type syncingGateway struct {
	persistence.Offline
	avatar string
}

func (g syncingGateway) SyncIdentity(_ context.Context, id model.Identity) (model.Identity, error) {
	return model.Identity{ID: id.ID, Name: id.Name, AvatarURL: g.avatar, JoinedAt: 7}, nil
}

func TestSession_OnboardOffline(t *testing.T) {
	snaps := snapshot.NewMemory()
	s := NewSession(persistence.Offline{}, snaps, nil)

	id, err := s.Onboard(context.Background(), "  Mira  Kowalski ")
	require.NoError(t, err)
	assert.Equal(t, "mira-kowalski_"+s.Suffix(), id.ID)
	assert.Equal(t, "Mira  Kowalski", id.Name)
	assert.Equal(t, model.ThemeDark, id.Theme)
	assert.True(t, strings.HasPrefix(id.AvatarURL, "https://api.dicebear.com/"))

	var stored model.Identity
	ok, err := snaps.Load(context.Background(), snapshot.IdentityKey, &stored)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "mira-kowalski", stored.ID, "stored profile has no session suffix")
}

func TestSession_OnboardUsesServerRecord(t *testing.T) {
	s := NewSession(syncingGateway{avatar: "https://server/a.png"}, snapshot.NewMemory(), nil)

	id, err := s.Onboard(context.Background(), "Mira")
	require.NoError(t, err)
	assert.Equal(t, "https://server/a.png", id.AvatarURL)
	assert.Equal(t, int64(7), id.JoinedAt)
	assert.Equal(t, model.ThemeDark, id.Theme, "fields the server omits are kept")
}

func TestSession_OnboardRequiresName(t *testing.T) {
	s := NewSession(nil, snapshot.NewMemory(), nil)
	_, err := s.Onboard(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyName)
}

func TestSession_RestoreGivesEachSessionItsOwnID(t *testing.T) {
	snaps := snapshot.NewMemory()
	_, err := NewSession(nil, snaps, nil).Onboard(context.Background(), "Mira")
	require.NoError(t, err)

	a := NewSession(nil, snaps, nil)
	b := NewSession(nil, snaps, nil)

	idA, ok, err := a.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	idB, ok, err := b.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, "mira_"+a.Suffix(), idA.ID)
	assert.Equal(t, "mira_"+b.Suffix(), idB.ID)
	assert.NotEqual(t, idA.ID, idB.ID)
	assert.Equal(t, "Mira", idB.Name)
}

func TestSession_LogoutForgetsProfile(t *testing.T) {
	snaps := snapshot.NewMemory()
	s := NewSession(nil, snaps, nil)
	_, err := s.Onboard(context.Background(), "Mira")
	require.NoError(t, err)

	require.NoError(t, s.Logout(context.Background()))

	_, ok, err := NewSession(nil, snaps, nil).Restore(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
