package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// refreshMargin is how long an access token must remain valid to be reused
// without refreshing. It absorbs clock skew and request latency.
const refreshMargin = time.Minute

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// EnsureValidAccessToken returns an access token valid for at least another
// minute, refreshing it with the refresh token when needed. A session without
// a refresh token is logged out before ErrAuth is returned.
func (m *Manager) EnsureValidAccessToken(ctx context.Context) (string, error) {
	tok := m.state.Token
	if tok == nil {
		return "", fmt.Errorf("%w: no user logged in", ErrAuth)
	}

	if tok.AccessValid(m.now(), refreshMargin) {
		return tok.AccessToken, nil
	}

	if tok.RefreshToken == "" {
		m.log.Info("access token expired and refresh token missing, logging out")
		if _, err := m.Logout(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: refresh token missing", ErrAuth)
	}

	return m.refreshAccessToken(ctx)
}

// refreshAccessToken exchanges the refresh token for a new access token. Only
// the access token and its expiry are replaced.
func (m *Manager) refreshAccessToken(ctx context.Context) (string, error) {
	tok := m.state.Token

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", tok.RefreshToken)
	form.Set("client_id", m.cfg.ClientID)

	m.log.Debug("refreshing access token", zap.Int64("user_id", tok.UserID))

	body, err := m.api.postForm(ctx, pathToken, form)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && (se.Code == "invalid_grant" || se.Code == "invalid_token") {
			return "", fmt.Errorf("%w: refresh token rejected: %w", ErrAuth, &oauth2.RetrieveError{
				Body:      []byte(se.Body),
				ErrorCode: se.Code,
			})
		}
		return "", fmt.Errorf("refresh request failed: %w", err)
	}

	var resp refreshResponse
	if isEmptyBody(body) || decodeJSON(body, &resp) != nil {
		return "", fmt.Errorf("%w: refresh response is not a token", ErrAuth)
	}
	if err := validateRefreshResponse(resp); err != nil {
		return "", fmt.Errorf("%w: invalid refresh response: %w", ErrAuth, err)
	}

	tok.AccessToken = resp.AccessToken
	tok.AccessExpiresAt = m.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	if err := m.persist(); err != nil {
		return "", err
	}

	m.log.Debug("access token refreshed", zap.Time("expires_at", tok.AccessExpiresAt))
	return tok.AccessToken, nil
}

func validateRefreshResponse(resp refreshResponse) error {
	if resp.AccessToken == "" {
		return errors.New("access_token is empty")
	}
	if resp.ExpiresIn <= 0 {
		return fmt.Errorf("expires_in must be positive, got: %d", resp.ExpiresIn)
	}
	// Token type is optional, but if present must be Bearer.
	if resp.TokenType != "" && resp.TokenType != "Bearer" && resp.TokenType != "bearer" {
		return fmt.Errorf("unexpected token_type: %s (expected Bearer)", resp.TokenType)
	}
	return nil
}

// Token implements oauth2.TokenSource so the session can back an oauth2 HTTP client.
func (m *Manager) Token() (*oauth2.Token, error) {
	if _, err := m.EnsureValidAccessToken(context.Background()); err != nil {
		return nil, err
	}
	return m.state.Token.OAuth2Token(), nil
}

var _ oauth2.TokenSource = (*Manager)(nil)

// Logout clears the whole session in one write and reports whether a user had been logged in.
func (m *Manager) Logout() (bool, error) {
	wasLoggedIn := m.state.Token != nil || m.state.Identity != nil
	m.state = &Snapshot{}
	m.resetPollGuard()
	if err := m.persist(); err != nil {
		return wasLoggedIn, err
	}
	if wasLoggedIn {
		m.log.Info("logged out")
	}
	return wasLoggedIn, nil
}
