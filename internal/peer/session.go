package peer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-chat/peernet/internal/conversation"
	"github.com/aura-chat/peernet/internal/model"
	"github.com/aura-chat/peernet/internal/persistence"
	"github.com/aura-chat/peernet/internal/snapshot"
	"github.com/aura-chat/peernet/pkg/logger"
)

// ErrEmptyName is returned when onboarding without a usable display name.
var ErrEmptyName = errors.New("display name is required")

// Session resolves the local identity. Every Session has its own suffix, so
// two processes restoring the same stored profile still run as distinct
// identities.
type Session struct {
	gateway   persistence.Gateway
	snapshots snapshot.Store
	suffix    string
	now       func() time.Time
	logger    *logger.Logger
}

// NewSession creates a session with a fresh suffix.
func NewSession(gw persistence.Gateway, snaps snapshot.Store, log *logger.Logger) *Session {
	if gw == nil {
		gw = persistence.Offline{}
	}
	return &Session{
		gateway:   gw,
		snapshots: snaps,
		suffix:    conversation.NewSessionSuffix(),
		now:       time.Now,
		logger:    logger.OrNop(log).Component("session"),
	}
}

// Suffix returns the session suffix appended to the stored profile id.
func (s *Session) Suffix() string {
	return s.suffix
}

// Onboard creates a profile from a display name, syncs it with the
// persistence backend and stores it. When the backend is unreachable the
// locally built profile is used. The returned identity carries the session
// suffix; the stored profile does not.
func (s *Session) Onboard(ctx context.Context, name string) (model.Identity, error) {
	name = strings.TrimSpace(name)
	slug := conversation.Slugify(name)
	if slug == "" {
		return model.Identity{}, ErrEmptyName
	}

	profile := model.Identity{
		ID:        slug,
		Name:      name,
		AvatarURL: model.DefaultAvatarURL(name),
		Theme:     model.ThemeDark,
		JoinedAt:  s.now().UnixMilli(),
	}

	synced, err := s.gateway.SyncIdentity(ctx, profile)
	if err != nil {
		s.logger.Warn("identity sync failed, continuing with local profile", zap.Error(err))
	} else {
		profile = mergeSynced(profile, synced)
	}

	if err := s.snapshots.Save(ctx, snapshot.IdentityKey, profile); err != nil {
		return model.Identity{}, fmt.Errorf("store identity: %w", err)
	}

	s.logger.Info("identity created", zap.String("profile_id", profile.ID))
	return s.withSession(profile), nil
}

// Restore loads the stored profile and reports false when there is none.
// The profile is synced in the background; failures are ignored.
func (s *Session) Restore(ctx context.Context) (model.Identity, bool, error) {
	var profile model.Identity
	found, err := s.snapshots.Load(ctx, snapshot.IdentityKey, &profile)
	if err != nil {
		return model.Identity{}, false, fmt.Errorf("load identity: %w", err)
	}
	if !found || profile.ID == "" {
		return model.Identity{}, false, nil
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistence.DefaultWriteTimeout)
		defer cancel()
		if _, err := s.gateway.SyncIdentity(ctx, profile); err != nil {
			s.logger.Debug("background identity sync failed", zap.Error(err))
		}
	}()

	return s.withSession(profile), true, nil
}

// Logout forgets the stored profile. The next start requires onboarding.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.snapshots.Delete(ctx, snapshot.IdentityKey); err != nil {
		return fmt.Errorf("remove identity: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

func (s *Session) withSession(profile model.Identity) model.Identity {
	profile.ID = conversation.SessionID(profile.ID, s.suffix)
	return profile
}

// mergeSynced applies the server record over the local profile. The server
// wins on every field it returns.
func mergeSynced(local, server model.Identity) model.Identity {
	out := local
	if server.ID != "" {
		out.ID = server.ID
	}
	if server.Name != "" {
		out.Name = server.Name
	}
	if server.AvatarURL != "" {
		out.AvatarURL = server.AvatarURL
	}
	if server.Theme != "" {
		out.Theme = server.Theme
	}
	if server.JoinedAt != 0 {
		out.JoinedAt = server.JoinedAt
	}
	return out
}
