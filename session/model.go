package session

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Scopes understood by the API.
const (
	ScopeUserRead          = "user.read"
	ScopeAchievementsRead  = "achievements.read"
	ScopeAchievementsWrite = "achievements.write"
)

// DefaultScopes is requested when RequestCode is called without scopes.
var DefaultScopes = []string{ScopeUserRead, ScopeAchievementsRead, ScopeAchievementsWrite}

// Identity is the profile of the logged-in user.
type Identity struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	ImageURL    string    `json:"image_url,omitempty"`
	Score       int64     `json:"score"`
	ProfileType string    `json:"profile_type,omitempty"`
	Bio         string    `json:"bio,omitempty"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// TokenRecord holds the credentials issued by a completed device-code login.
// An access token without an expiry is never considered valid.
type TokenRecord struct {
	RefreshToken     string    `json:"refresh_token,omitempty"`
	AccessToken      string    `json:"access_token,omitempty"`
	AccessExpiresAt  time.Time `json:"access_expires_at,omitzero"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitzero"`
	ClientID         string    `json:"client_id"`
	UserID           int64     `json:"user_id"`
	Scopes           []string  `json:"scopes,omitempty"`
}

// AccessValid reports whether the access token is usable for at least margin past now.
func (t *TokenRecord) AccessValid(now time.Time, margin time.Duration) bool {
	if t == nil || t.AccessToken == "" || t.AccessExpiresAt.IsZero() {
		return false
	}
	return t.AccessExpiresAt.After(now.Add(margin))
}

// HasScope reports whether scope was granted.
func (t *TokenRecord) HasScope(scope string) bool {
	return t != nil && slices.Contains(t.Scopes, scope)
}

// OAuth2Token converts the record for use with golang.org/x/oauth2 clients.
func (t *TokenRecord) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       t.AccessExpiresAt,
	}
}

func (t *TokenRecord) clone() *TokenRecord {
	if t == nil {
		return nil
	}
	c := *t
	c.Scopes = slices.Clone(t.Scopes)
	return &c
}

// DeviceCodeRequest is an outstanding short-code login.
type DeviceCodeRequest struct {
	ShortCode       string    `json:"short_code"`
	DeviceRef       string    `json:"device_ref"`
	ExpiresAt       time.Time `json:"expires_at"`
	Interval        int       `json:"interval"`
	VerificationURL string    `json:"verification_url"`
}

// Expired reports whether the code can no longer be completed.
func (d *DeviceCodeRequest) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// PollInterval is the minimum delay between completion checks.
func (d *DeviceCodeRequest) PollInterval() time.Duration {
	return time.Duration(d.Interval) * time.Second
}

// DeviceAuth converts the request to the oauth2 representation used by displayers.
func (d *DeviceCodeRequest) DeviceAuth() *oauth2.DeviceAuthResponse {
	return &oauth2.DeviceAuthResponse{
		DeviceCode:      d.DeviceRef,
		UserCode:        d.ShortCode,
		VerificationURI: d.VerificationURL,
		Expiry:          d.ExpiresAt,
		Interval:        int64(d.Interval),
	}
}

// AchievementDefinition is an achievement declared for the app.
type AchievementDefinition struct {
	AppID      string    `json:"app_id"`
	Identifier string    `json:"identifier"`
	Name       string    `json:"name"`
	ImageURL   string    `json:"image_url,omitempty"`
	IconURL    string    `json:"icon_url,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
}

// Matches compares identifiers case-insensitively.
func (a AchievementDefinition) Matches(identifier string) bool {
	return strings.EqualFold(a.Identifier, identifier)
}

// UserAchievement is an achievement unlocked by a user.
type UserAchievement struct {
	AchievementDefinition
	UserID     int64     `json:"user_id"`
	AchievedAt time.Time `json:"achieved_at,omitzero"`
}

// Snapshot is the persisted state of the current session.
type Snapshot struct {
	Identity     *Identity          `json:"identity,omitempty"`
	Token        *TokenRecord       `json:"token,omitempty"`
	DeviceCode   *DeviceCodeRequest `json:"device_code,omitempty"`
	Achievements []UserAchievement  `json:"achievements"`
}

// Clone returns a deep copy so callers cannot mutate manager state.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Token:        s.Token.clone(),
		Achievements: slices.Clone(s.Achievements),
	}
	if s.Identity != nil {
		id := *s.Identity
		c.Identity = &id
	}
	if s.DeviceCode != nil {
		dc := *s.DeviceCode
		c.DeviceCode = &dc
	}
	return c
}

func findAchievement(list []UserAchievement, identifier string) (UserAchievement, bool) {
	for _, a := range list {
		if a.Matches(identifier) {
			return a, true
		}
	}
	return UserAchievement{}, false
}
