package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"
)

type grantRequest struct {
	Identifier string `json:"identifier"`
	Achieved   bool   `json:"achieved"`
}

// RefreshUserAchievements replaces the cached unlocked achievements with the server's list.
func (m *Manager) RefreshUserAchievements(ctx context.Context) ([]UserAchievement, error) {
	accessToken, err := m.EnsureValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var list []UserAchievement
	if err := m.api.getJSON(ctx, pathUserAchievements, accessToken, &list); err != nil {
		return nil, fmt.Errorf("user achievements fetch failed: %w", err)
	}

	m.state.Achievements = list
	if err := m.persist(); err != nil {
		return nil, err
	}
	m.log.Debug("achievements refreshed", zap.Int("count", len(list)))
	return slices.Clone(list), nil
}

// GetAppAchievements lists every achievement defined for the app. The result is not cached.
func (m *Manager) GetAppAchievements(ctx context.Context) ([]AchievementDefinition, error) {
	accessToken, err := m.EnsureValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	var list []AchievementDefinition
	if err := m.api.getJSON(ctx, pathAppAchievements, accessToken, &list); err != nil {
		return nil, fmt.Errorf("app achievements fetch failed: %w", err)
	}
	return list, nil
}

// AddUserAchievement marks identifier as achieved for the current user.
//
// A duplicate grant is ignored unless failIfExists is set, in which case
// ErrAlreadyExists is returned. Without achievement read scope the grant
// cannot be confirmed and (nil, nil) is returned. Otherwise the cache is
// refreshed and the matching entry returned.
func (m *Manager) AddUserAchievement(
	ctx context.Context,
	identifier string,
	failIfExists bool,
) (*UserAchievement, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, fmt.Errorf("%w: achievement identifier is required", ErrInvalidState)
	}

	accessToken, err := m.EnsureValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	_, err = m.api.postJSON(ctx, pathUserAchievements, accessToken, grantRequest{
		Identifier: identifier,
		Achieved:   true,
	})
	var se *StatusError
	switch {
	case err == nil:
	case errors.As(err, &se) && se.StatusCode == http.StatusConflict:
		if failIfExists {
			return nil, fmt.Errorf("%w: achievement %q: %w", ErrAlreadyExists, identifier, err)
		}
		m.log.Debug("achievement already granted", zap.String("identifier", identifier))
	default:
		return nil, fmt.Errorf("achievement grant failed: %w", err)
	}

	if !m.state.Token.HasScope(ScopeAchievementsRead) {
		return nil, nil
	}

	list, err := m.RefreshUserAchievements(ctx)
	if err != nil {
		return nil, err
	}
	got, ok := findAchievement(list, identifier)
	if !ok {
		return nil, fmt.Errorf("%w: achievement %q granted but not confirmed", ErrData, identifier)
	}
	return &got, nil
}
