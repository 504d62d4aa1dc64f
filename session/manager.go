package session

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	retry "github.com/appleboy/go-httpretry"
	"go.uber.org/zap"
)

// Environment selects the API base URL.
type Environment string

const (
	EnvTest       Environment = "test"
	EnvProduction Environment = "production"
)

// Config describes where the session lives and which API it talks to.
type Config struct {
	ClientID      string
	DataDir       string
	Environment   Environment
	TestURL       string
	ProductionURL string
	SnapshotFile  string
}

// Validate checks the configuration. The data directory must already exist.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return errors.New("client id is required")
	}
	if c.DataDir == "" {
		return errors.New("data directory is required")
	}
	info, err := os.Stat(c.DataDir)
	if err != nil {
		return fmt.Errorf("data directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data directory %s is not a directory", c.DataDir)
	}
	switch c.Environment {
	case EnvTest, EnvProduction:
	default:
		return fmt.Errorf("unknown environment %q (want %q or %q)", c.Environment, EnvTest, EnvProduction)
	}
	if err := ValidateServerURL(c.BaseURL()); err != nil {
		return fmt.Errorf("invalid %s server URL: %w", c.Environment, err)
	}
	if strings.ContainsAny(c.SnapshotFile, `/\`) {
		return fmt.Errorf("snapshot file name %q must not contain a path separator", c.SnapshotFile)
	}
	return nil
}

// BaseURL returns the API base URL for the selected environment.
func (c Config) BaseURL() string {
	if c.Environment == EnvProduction {
		return strings.TrimRight(c.ProductionURL, "/")
	}
	return strings.TrimRight(c.TestURL, "/")
}

// SnapshotPath is the full path of the snapshot file.
func (c Config) SnapshotPath() string {
	name := c.SnapshotFile
	if name == "" {
		name = DefaultSnapshotFile
	}
	return filepath.Join(c.DataDir, name)
}

// ValidateServerURL checks that rawURL is an absolute http(s) URL.
func ValidateServerURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("server URL cannot be empty")
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got: %s", u.Scheme)
	}

	if u.Host == "" {
		return errors.New("URL must include a host")
	}

	return nil
}

// Option customizes a Manager.
type Option func(*Manager)

// WithDoer replaces the HTTP transport.
func WithDoer(d Doer) Option {
	return func(m *Manager) { m.api.http = d }
}

// WithStore replaces the snapshot store.
func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithLogger sets the logger. Secrets are never logged.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRequestTimeout bounds each individual HTTP call.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Manager) { m.api.timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(m *Manager) { m.api.userAgent = ua }
}

// Manager owns the single logged-in session of the process. Construct one at
// startup and share it. Calls are not synchronized: callers must not run two
// state-changing operations concurrently.
type Manager struct {
	cfg   Config
	api   *apiClient
	store Store
	log   *zap.Logger
	now   func() time.Time

	state *Snapshot
	// issuedAt and lastPoll drive the client-side poll rate guard. Both are
	// zero for a code loaded from disk, which allows an immediate check.
	issuedAt time.Time
	lastPoll time.Time
}

// New validates cfg, loads the persisted snapshot and returns the session manager.
func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg: cfg,
		api: &apiClient{
			baseURL:   cfg.BaseURL(),
			userAgent: "session-cli",
			timeout:   defaultRequestTimeout,
		},
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.api.http == nil {
		client, err := newRetryClient(m.log)
		if err != nil {
			return nil, err
		}
		m.api.http = client
	}
	if m.store == nil {
		m.store = NewFileStore(cfg.SnapshotPath(), m.log)
	}

	m.state = m.store.Load()
	if m.state == nil {
		m.state = &Snapshot{}
	}
	m.log.Debug("session loaded",
		zap.Bool("logged_in", m.state.Token != nil),
		zap.Bool("pending_code", m.state.DeviceCode != nil),
		zap.Int("achievements", len(m.state.Achievements)))
	return m, nil
}

// newRetryClient builds the default transport. Every response and every
// network error is handed straight back: retry policy belongs to the caller.
func newRetryClient(log *zap.Logger) (*retry.Client, error) {
	base := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	client, err := retry.NewClient(
		retry.WithHTTPClient(base),
		retry.WithMaxRetries(0),
		retry.WithRetryableChecker(func(error, *http.Response) bool { return false }),
		retry.WithLogger(zapRetryLogger{log.Sugar()}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry client: %w", err)
	}
	return client, nil
}

// zapRetryLogger routes go-httpretry's key/value logs into zap.
type zapRetryLogger struct {
	s *zap.SugaredLogger
}

func (l zapRetryLogger) Debug(msg string, args ...any) { l.s.Debugw(msg, args...) }
func (l zapRetryLogger) Info(msg string, args ...any)  { l.s.Infow(msg, args...) }
func (l zapRetryLogger) Warn(msg string, args ...any)  { l.s.Warnw(msg, args...) }
func (l zapRetryLogger) Error(msg string, args ...any) { l.s.Errorw(msg, args...) }

// Session returns a copy of the current snapshot.
func (m *Manager) Session() *Snapshot {
	return m.state.Clone()
}

// LoggedIn reports whether a token record is held.
func (m *Manager) LoggedIn() bool {
	return m.state.Token != nil
}

// Identity returns a copy of the cached identity, or nil.
func (m *Manager) Identity() *Identity {
	if m.state.Identity == nil {
		return nil
	}
	id := *m.state.Identity
	return &id
}

// PendingCode returns a copy of the outstanding device code, or nil.
func (m *Manager) PendingCode() *DeviceCodeRequest {
	if m.state.DeviceCode == nil {
		return nil
	}
	dc := *m.state.DeviceCode
	return &dc
}

// Achievements returns a copy of the cached unlocked achievements.
func (m *Manager) Achievements() []UserAchievement {
	return m.Session().Achievements
}

// SnapshotPath is where the session is persisted when using the default store.
func (m *Manager) SnapshotPath() string {
	return m.cfg.SnapshotPath()
}

// persist writes the in-memory state through to the store.
func (m *Manager) persist() error {
	if err := m.store.Save(m.state); err != nil {
		m.log.Error("failed to save session", zap.Error(err))
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}
