package session

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// FetchProfile retrieves the logged-in user's profile without storing it.
func (m *Manager) FetchProfile(ctx context.Context) (*Identity, error) {
	if m.state.Token == nil {
		return nil, fmt.Errorf("%w: no user logged in", ErrAuth)
	}
	accessToken, err := m.EnsureValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var identity Identity
	if err := m.api.getJSON(ctx, pathProfile, accessToken, &identity); err != nil {
		return nil, fmt.Errorf("profile fetch failed: %w", err)
	}
	if identity.ID == 0 {
		return nil, fmt.Errorf("%w: profile has no user id", ErrData)
	}
	return &identity, nil
}

// RefreshUserProfile fetches and stores the profile, then refreshes the
// achievement cache when the token grants achievement read access. A failure
// of that second step is returned as *AchievementSyncError after the profile
// has been committed.
func (m *Manager) RefreshUserProfile(ctx context.Context) (*Identity, error) {
	identity, err := m.commitProfile(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.syncAchievementsIfScoped(ctx); err != nil {
		return identity, err
	}
	return identity, nil
}

// commitProfile fetches the profile, checks it belongs to the token's subject
// and persists it. The stored identity is untouched on any failure.
func (m *Manager) commitProfile(ctx context.Context) (*Identity, error) {
	identity, err := m.FetchProfile(ctx)
	if err != nil {
		return nil, err
	}

	tok := m.state.Token
	if tok == nil {
		// Logged out while fetching.
		return nil, fmt.Errorf("%w: no user logged in", ErrAuth)
	}
	switch {
	case tok.UserID == 0:
		tok.UserID = identity.ID
	case tok.UserID != identity.ID:
		return nil, fmt.Errorf(
			"%w: profile user %d does not match token subject %d",
			ErrConsistency, identity.ID, tok.UserID,
		)
	}

	m.state.Identity = identity
	if err := m.persist(); err != nil {
		return nil, err
	}
	m.log.Debug("profile updated", zap.Int64("user_id", identity.ID))

	out := *identity
	return &out, nil
}

func (m *Manager) syncAchievementsIfScoped(ctx context.Context) error {
	if !m.state.Token.HasScope(ScopeAchievementsRead) {
		return nil
	}
	if _, err := m.RefreshUserAchievements(ctx); err != nil {
		m.log.Warn("achievement refresh failed", zap.Error(err))
		return &AchievementSyncError{Err: err}
	}
	return nil
}
