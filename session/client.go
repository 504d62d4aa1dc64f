package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API paths, relative to the configured base URL.
const (
	pathGetShortCode     = "/oauth/getshortcode"
	pathCheckShortCode   = "/oauth/checkshortcode"
	pathToken            = "/oauth/token"
	pathProfile          = "/users/me"
	pathUserAchievements = "/users/me/apps/me/achievements"
	pathAppAchievements  = "/apps/me/achievements"
)

const defaultRequestTimeout = 10 * time.Second

// Doer issues HTTP requests. *retry.Client from go-httpretry satisfies it.
type Doer interface {
	DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error)
}

// apiClient is the HTTP boundary: it attaches credentials, classifies failures
// and hands back raw 2xx bodies.
type apiClient struct {
	baseURL   string
	http      Doer
	userAgent string
	timeout   time.Duration
}

func (c *apiClient) do(
	ctx context.Context,
	method, path, accessToken, contentType string,
	body []byte,
) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload io.Reader
	if body != nil {
		payload = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.DoWithContext(reqCtx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrTransport, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(method, path, resp.StatusCode, respBody)
	}
	return respBody, nil
}

func (c *apiClient) getJSON(ctx context.Context, path, accessToken string, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, accessToken, "", nil)
	if err != nil {
		return err
	}
	if isEmptyBody(body) {
		return fmt.Errorf("%w: GET %s returned an empty body", ErrData, path)
	}
	if err := decodeJSON(body, out); err != nil {
		return fmt.Errorf("%w: GET %s: %w", ErrData, path, err)
	}
	return nil
}

// postJSON returns the raw response body; an empty body is not an error here.
func (c *apiClient) postJSON(ctx context.Context, path, accessToken string, in any) ([]byte, error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, accessToken, "application/json", data)
}

func (c *apiClient) postForm(ctx context.Context, path string, form url.Values) ([]byte, error) {
	return c.do(
		ctx,
		http.MethodPost,
		path,
		"",
		"application/x-www-form-urlencoded",
		[]byte(form.Encode()),
	)
}

func decodeJSON(body []byte, out any) error {
	return json.Unmarshal(body, out)
}

// isEmptyBody treats whitespace, null and {} as no content.
func isEmptyBody(body []byte) bool {
	s := strings.TrimSpace(string(body))
	return s == "" || s == "null" || s == "{}"
}
