package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/go-authgate/session-cli/session"
)

const testClientID = "0b8f6c1e-6a43-4b7e-9d5a-3f1f2a9c7d10"

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CLIENT_ID", "DATA_DIR", "APP_ENV", "TEST_SERVER_URL",
		"SERVER_URL", "SESSION_FILE", "DEBUG",
	} {
		t.Setenv(key, "")
	}
}

func TestGetConfig(t *testing.T) {
	t.Setenv("GET_CONFIG_TEST", "from-env")

	assert.Equal(t, "from-flag", getConfig("from-flag", "GET_CONFIG_TEST", "default"))
	assert.Equal(t, "from-env", getConfig("", "GET_CONFIG_TEST", "default"))
	assert.Equal(t, "default", getConfig("", "GET_CONFIG_TEST_UNSET", "default"))
}

func TestResolveConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg := resolveConfig(options{clientID: "abc"})

	assert.Equal(t, "abc", cfg.ClientID)
	assert.Equal(t, ".", cfg.DataDir)
	assert.Equal(t, session.EnvTest, cfg.Environment)
	assert.Equal(t, "http://localhost:8080", cfg.TestURL)
	assert.Empty(t, cfg.ProductionURL)
	assert.Equal(t, session.DefaultSnapshotFile, cfg.SnapshotFile)
}

func TestResolveConfig_FlagBeatsEnv(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("CLIENT_ID", "env-client")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("SERVER_URL", "https://api.example.com")
	t.Setenv("SESSION_FILE", "env.json")

	cfg := resolveConfig(options{clientID: "flag-client", sessionFile: "flag.json"})

	assert.Equal(t, "flag-client", cfg.ClientID)
	assert.Equal(t, session.EnvProduction, cfg.Environment)
	assert.Equal(t, "https://api.example.com", cfg.BaseURL())
	assert.Equal(t, "flag.json", cfg.SnapshotFile)
}

func TestDebugEnabled(t *testing.T) {
	clearConfigEnv(t)
	assert.False(t, debugEnabled(options{}))
	assert.True(t, debugEnabled(options{debug: true}))

	t.Setenv("DEBUG", "true")
	assert.True(t, debugEnabled(options{}))

	t.Setenv("DEBUG", "nope")
	assert.False(t, debugEnabled(options{}))
}

func TestConfigWarnings(t *testing.T) {
	tests := []struct {
		name     string
		cfg      session.Config
		contains []string
	}{
		{
			name: "https with uuid",
			cfg: session.Config{
				ClientID:      testClientID,
				Environment:   session.EnvProduction,
				ProductionURL: "https://api.example.com",
			},
		},
		{
			name: "plain http",
			cfg: session.Config{
				ClientID:    testClientID,
				Environment: session.EnvTest,
				TestURL:     "http://localhost:8080",
			},
			contains: []string{"HTTP instead of HTTPS"},
		},
		{
			name: "non-uuid client id",
			cfg: session.Config{
				ClientID:      "my-app",
				Environment:   session.EnvProduction,
				ProductionURL: "https://api.example.com",
			},
			contains: []string{"valid UUID: my-app"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := strings.Join(configWarnings(tt.cfg), "\n")
			if len(tt.contains) == 0 {
				assert.Empty(t, warnings)
			}
			for _, want := range tt.contains {
				assert.Contains(t, warnings, want)
			}
		})
	}
}

// cliEnv is a data directory plus a fake API for running commands end to end.
type cliEnv struct {
	t       *testing.T
	dir     string
	mux     *http.ServeMux
	server  *httptest.Server
	grants  atomic.Int32
	checked atomic.Int32
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	clearConfigEnv(t)

	e := &cliEnv{t: t, dir: t.TempDir(), mux: http.NewServeMux()}
	e.server = httptest.NewServer(e.mux)
	t.Cleanup(e.server.Close)
	return e
}

func (e *cliEnv) handle(pattern string, h http.HandlerFunc) {
	e.mux.HandleFunc(pattern, h)
}

func (e *cliEnv) seed(snap *session.Snapshot) {
	e.t.Helper()
	store := session.NewFileStore(filepath.Join(e.dir, session.DefaultSnapshotFile), nil)
	require.NoError(e.t, store.Save(snap))
}

func (e *cliEnv) persisted() *session.Snapshot {
	e.t.Helper()
	data, err := os.ReadFile(filepath.Join(e.dir, session.DefaultSnapshotFile))
	require.NoError(e.t, err)
	var snap session.Snapshot
	require.NoError(e.t, json.Unmarshal(data, &snap))
	return &snap
}

// run executes the CLI and returns stdout, stderr and the command error.
func (e *cliEnv) run(args ...string) (string, string, error) {
	e.t.Helper()
	client, err := retry.NewClient()
	require.NoError(e.t, err)

	var out, errOut bytes.Buffer
	root := newRootCommand(&out, &errOut,
		session.WithDoer(client),
		session.WithLogger(zaptest.NewLogger(e.t)),
	)
	root.SetArgs(append([]string{
		"--client-id", testClientID,
		"--data-dir", e.dir,
		"--test-url", e.server.URL,
	}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = root.ExecuteContext(ctx)
	return out.String(), errOut.String(), err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loggedInSnapshot(scopes ...string) *session.Snapshot {
	return &session.Snapshot{
		Identity: &session.Identity{ID: 42, DisplayName: "Ada"},
		Token: &session.TokenRecord{
			AccessToken:     "access-1",
			RefreshToken:    "refresh-1",
			AccessExpiresAt: time.Now().Add(time.Hour),
			ClientID:        testClientID,
			UserID:          42,
			Scopes:          scopes,
		},
	}
}

func TestCLI_MissingClientID(t *testing.T) {
	clearConfigEnv(t)

	var out, errOut bytes.Buffer
	root := newRootCommand(&out, &errOut)
	root.SetArgs([]string{"--data-dir", t.TempDir(), "logout"})

	err := root.Execute()

	require.Error(t, err)
	assert.Contains(t, errOut.String(), "CLIENT_ID not set")
}

func TestCLI_InvalidEnvironment(t *testing.T) {
	e := newCLIEnv(t)

	_, _, err := e.run("--env", "staging", "logout")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown environment")
}

func TestCLI_Logout(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(loggedInSnapshot(session.ScopeUserRead))

	out, _, err := e.run("logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out.")

	snap := e.persisted()
	assert.Nil(t, snap.Token)
	assert.Nil(t, snap.Identity)

	out, _, err = e.run("logout")
	require.NoError(t, err)
	assert.Contains(t, out, "No user was logged in.")
}

func TestCLI_TokenPrintsValidAccessToken(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(loggedInSnapshot(session.ScopeUserRead))

	out, _, err := e.run("token")

	require.NoError(t, err)
	assert.Equal(t, "access-1\n", out)
}

func TestCLI_TokenRefreshesExpiredAccessToken(t *testing.T) {
	e := newCLIEnv(t)
	snap := loggedInSnapshot(session.ScopeUserRead)
	snap.Token.AccessExpiresAt = time.Now().Add(-time.Minute)
	e.seed(snap)

	e.handle("POST /oauth/token", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh-1", r.PostForm.Get("refresh_token"))
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "access-2",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})

	out, _, err := e.run("token")

	require.NoError(t, err)
	assert.Equal(t, "access-2\n", out)
	assert.Equal(t, "access-2", e.persisted().Token.AccessToken)
}

func TestCLI_TokenWithoutSession(t *testing.T) {
	e := newCLIEnv(t)

	_, _, err := e.run("token")

	require.ErrorIs(t, err, session.ErrAuth)
}

func TestCLI_WhoamiRefresh(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(loggedInSnapshot(session.ScopeUserRead))

	e.handle("GET /users/me", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer access-1", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, map[string]any{
			"id":           42,
			"display_name": "Ada Lovelace",
			"score":        1200,
		})
	})

	out, _, err := e.run("whoami", "--refresh")

	require.NoError(t, err)
	assert.Contains(t, out, "Ada Lovelace")
	assert.Contains(t, out, "1200")
	assert.Equal(t, "Ada Lovelace", e.persisted().Identity.DisplayName)
}

func TestCLI_WhoamiNotLoggedIn(t *testing.T) {
	e := newCLIEnv(t)

	_, _, err := e.run("whoami")

	require.ErrorIs(t, err, session.ErrAuth)
}

func TestCLI_AchievementsListFromCache(t *testing.T) {
	e := newCLIEnv(t)
	snap := loggedInSnapshot(session.ScopeUserRead, session.ScopeAchievementsRead)
	snap.Achievements = []session.UserAchievement{{
		AchievementDefinition: session.AchievementDefinition{Identifier: "first-win", Name: "First Win"},
		UserID:                42,
	}}
	e.seed(snap)

	out, _, err := e.run("achievements", "list")

	require.NoError(t, err)
	assert.Contains(t, out, "IDENTIFIER")
	assert.Contains(t, out, "first-win")
	assert.Contains(t, out, "First Win")
}

func TestCLI_AchievementsGrant(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(loggedInSnapshot(session.ScopeUserRead, session.ScopeAchievementsRead, session.ScopeAchievementsWrite))

	e.handle("POST /users/me/apps/me/achievements", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "first-win", body["identifier"])
		if e.grants.Add(1) > 1 {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "already_exists"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	e.handle("GET /users/me/apps/me/achievements", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{{
			"identifier":  "first-win",
			"name":        "First Win",
			"user_id":     42,
			"achieved_at": "2026-03-01T12:00:00Z",
		}})
	})

	out, _, err := e.run("achievements", "grant", "first-win")
	require.NoError(t, err)
	assert.Contains(t, out, "Granted first-win (First Win) at 2026-03-01T12:00:00Z.")

	// Duplicate grants are fine unless --strict is given.
	_, _, err = e.run("achievements", "grant", "first-win")
	require.NoError(t, err)

	_, _, err = e.run("achievements", "grant", "first-win", "--strict")
	require.ErrorIs(t, err, session.ErrAlreadyExists)
}

func TestCLI_CodeClear(t *testing.T) {
	e := newCLIEnv(t)
	e.seed(&session.Snapshot{DeviceCode: &session.DeviceCodeRequest{
		ShortCode: "ABC123",
		DeviceRef: "dev-1",
		ExpiresAt: time.Now().Add(10 * time.Minute),
		Interval:  5,
	}})

	out, _, err := e.run("code", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Login code cleared.")
	assert.Nil(t, e.persisted().DeviceCode)

	out, _, err = e.run("code", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "No login code pending.")
}
