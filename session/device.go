package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// defaultPollInterval applies when the server does not send an interval.
const defaultPollInterval = 5

type shortCodeRequest struct {
	ClientID string   `json:"client_id"`
	Scope    []string `json:"scope"`
}

type shortCodeResponse struct {
	ShortCode       string `json:"short_code"`
	DeviceRef       string `json:"device_ref"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
	VerificationURL string `json:"verification_url"`
}

type checkShortCodeRequest struct {
	ClientID  string `json:"client_id"`
	Code      string `json:"code"`
	DeviceRef string `json:"device_ref"`
}

type issuedTokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	ExpiresIn        int       `json:"expires_in"`
	RefreshExpiresIn int       `json:"refresh_expires_in"`
	ClientID         string    `json:"client_id"`
	UserID           int64     `json:"user_id"`
	Scope            scopeList `json:"scope"`
}

// scopeList accepts either a JSON array or a space-separated string.
type scopeList []string

func (s *scopeList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*s = dedupe(list)
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("scope must be a string or a list: %w", err)
	}
	*s = dedupe(strings.Fields(joined))
	return nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// RequestCode starts a device-code login for scopes (DefaultScopes when empty).
// Any outstanding code is replaced.
func (m *Manager) RequestCode(ctx context.Context, scopes ...string) (*DeviceCodeRequest, error) {
	m.resetPollGuard()
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	body, err := m.api.postJSON(ctx, pathGetShortCode, "", shortCodeRequest{
		ClientID: m.cfg.ClientID,
		Scope:    dedupe(scopes),
	})
	if err != nil {
		return nil, fmt.Errorf("short code request failed: %w", err)
	}

	var resp shortCodeResponse
	if isEmptyBody(body) {
		return nil, fmt.Errorf("%w: short code response is empty", ErrData)
	}
	if err := decodeJSON(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse short code response: %w", ErrData, err)
	}
	if resp.ShortCode == "" || resp.DeviceRef == "" {
		return nil, fmt.Errorf("%w: short code response missing code or device reference", ErrData)
	}
	if resp.ExpiresIn <= 0 {
		return nil, fmt.Errorf("%w: expires_in must be positive, got: %d", ErrData, resp.ExpiresIn)
	}
	if resp.Interval <= 0 {
		resp.Interval = defaultPollInterval
	}

	now := m.now()
	m.state.DeviceCode = &DeviceCodeRequest{
		ShortCode:       resp.ShortCode,
		DeviceRef:       resp.DeviceRef,
		ExpiresAt:       now.Add(time.Duration(resp.ExpiresIn) * time.Second),
		Interval:        resp.Interval,
		VerificationURL: resp.VerificationURL,
	}
	m.issuedAt = now
	if err := m.persist(); err != nil {
		return nil, err
	}

	m.log.Info("short code issued",
		zap.String("code", resp.ShortCode),
		zap.Time("expires_at", m.state.DeviceCode.ExpiresAt),
		zap.Int("interval", resp.Interval))
	return m.PendingCode(), nil
}

// CheckComplete polls once for completion of the pending code.
//
// It returns (false, nil, nil) while the user has not finished, including when
// called sooner than the server's poll interval (no request is made then). On
// completion the token is installed, the profile fetched and the pending code
// cleared. A failed achievement refresh after that returns done=true together
// with an *AchievementSyncError. Other failures after a token was issued keep
// the token so RefreshUserProfile can recover without a new login.
func (m *Manager) CheckComplete(ctx context.Context) (bool, *Identity, error) {
	dc := m.state.DeviceCode
	if dc == nil {
		return false, nil, fmt.Errorf("%w: no login code pending", ErrInvalidState)
	}

	now := m.now()
	if dc.Expired(now) {
		m.state.DeviceCode = nil
		m.resetPollGuard()
		if err := m.persist(); err != nil {
			return false, nil, err
		}
		return false, nil, ErrExpired
	}

	if next := m.NextPollAt(); now.Before(next) {
		return false, nil, nil
	}

	body, err := m.api.postJSON(ctx, pathCheckShortCode, "", checkShortCodeRequest{
		ClientID:  m.cfg.ClientID,
		Code:      dc.ShortCode,
		DeviceRef: dc.DeviceRef,
	})
	m.lastPoll = m.now()
	if err != nil {
		return false, nil, fmt.Errorf("short code check failed: %w", err)
	}

	var resp issuedTokenResponse
	if !isEmptyBody(body) {
		if err := decodeJSON(body, &resp); err != nil {
			return false, nil, fmt.Errorf("%w: failed to parse short code check: %w", ErrData, err)
		}
	}
	if resp.AccessToken == "" {
		m.log.Debug("login not completed yet", zap.String("code", dc.ShortCode))
		return false, nil, nil
	}

	if err := m.installToken(resp); err != nil {
		return false, nil, err
	}

	identity, err := m.commitProfile(ctx)
	if err != nil {
		return false, nil, err
	}

	m.state.DeviceCode = nil
	m.resetPollGuard()
	if err := m.persist(); err != nil {
		return false, nil, err
	}
	m.log.Info("login completed",
		zap.Int64("user_id", identity.ID),
		zap.String("display_name", identity.DisplayName))

	if err := m.syncAchievementsIfScoped(ctx); err != nil {
		return true, identity, err
	}
	return true, identity, nil
}

// installToken replaces the token record. Identity and achievements belonging
// to a different user are dropped.
func (m *Manager) installToken(resp issuedTokenResponse) error {
	now := m.now()
	rec := &TokenRecord{
		RefreshToken: resp.RefreshToken,
		AccessToken:  resp.AccessToken,
		ClientID:     resp.ClientID,
		UserID:       resp.UserID,
		Scopes:       []string(resp.Scope),
	}
	if rec.ClientID == "" {
		rec.ClientID = m.cfg.ClientID
	}
	if resp.ExpiresIn > 0 {
		rec.AccessExpiresAt = now.Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if resp.RefreshExpiresIn > 0 {
		rec.RefreshExpiresAt = now.Add(time.Duration(resp.RefreshExpiresIn) * time.Second)
	}

	if m.state.Identity != nil && m.state.Identity.ID != rec.UserID {
		m.state.Identity = nil
		m.state.Achievements = nil
	}
	m.state.Token = rec
	return m.persist()
}

// ClearLoginCode drops the pending code without contacting the server.
func (m *Manager) ClearLoginCode() error {
	if m.state.DeviceCode == nil {
		return nil
	}
	m.state.DeviceCode = nil
	m.resetPollGuard()
	return m.persist()
}

// NextPollAt is the earliest time CheckComplete will contact the server for
// the pending code. The zero time means a check may run now.
func (m *Manager) NextPollAt() time.Time {
	dc := m.state.DeviceCode
	if dc == nil {
		return time.Time{}
	}
	last := m.lastPoll
	if last.IsZero() {
		last = m.issuedAt
	}
	if last.IsZero() {
		return time.Time{}
	}
	return last.Add(dc.PollInterval())
}

func (m *Manager) resetPollGuard() {
	m.issuedAt = time.Time{}
	m.lastPoll = time.Time{}
}
