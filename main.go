package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/go-authgate/session-cli/session"
)

// Defaults applied when neither a flag nor an environment variable is set.
const (
	defaultDataDir = "."
	defaultEnv     = string(session.EnvTest)
	defaultTestURL = "http://localhost:8080"
)

// options holds the raw flag values before env/default resolution.
type options struct {
	clientID      string
	dataDir       string
	env           string
	testURL       string
	productionURL string
	sessionFile   string
	debug         bool
}

// app is shared by every command. mgr is built once in the root pre-run hook.
type app struct {
	opts   options
	out    io.Writer
	errOut io.Writer
	log    *zap.Logger
	mgr    *session.Manager
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveConfig applies flag > env > default to every setting.
func resolveConfig(o options) session.Config {
	return session.Config{
		ClientID:      getConfig(o.clientID, "CLIENT_ID", ""),
		DataDir:       getConfig(o.dataDir, "DATA_DIR", defaultDataDir),
		Environment:   session.Environment(strings.ToLower(getConfig(o.env, "APP_ENV", defaultEnv))),
		TestURL:       getConfig(o.testURL, "TEST_SERVER_URL", defaultTestURL),
		ProductionURL: getConfig(o.productionURL, "SERVER_URL", ""),
		SnapshotFile:  getConfig(o.sessionFile, "SESSION_FILE", session.DefaultSnapshotFile),
	}
}

// debugEnabled reports whether --debug or a truthy DEBUG env var is set.
func debugEnabled(o options) bool {
	if o.debug {
		return true
	}
	v, err := strconv.ParseBool(os.Getenv("DEBUG"))
	return err == nil && v
}

// configWarnings lists non-fatal problems with a valid configuration.
func configWarnings(cfg session.Config) []string {
	var warnings []string
	if strings.HasPrefix(strings.ToLower(cfg.BaseURL()), "http://") {
		warnings = append(warnings,
			"Using HTTP instead of HTTPS. Tokens will be transmitted in plaintext!",
			"This is only safe for local development. Use HTTPS in production.",
		)
	}
	if _, err := uuid.Parse(cfg.ClientID); err != nil {
		warnings = append(warnings,
			fmt.Sprintf("CLIENT_ID doesn't appear to be a valid UUID: %s", cfg.ClientID),
			"This may cause authentication issues if the server expects UUID format.",
		)
	}
	return warnings
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// setup resolves the configuration and constructs the session manager.
func (a *app) setup(extra ...session.Option) error {
	cfg := resolveConfig(a.opts)
	if strings.TrimSpace(cfg.ClientID) == "" {
		fmt.Fprintln(a.errOut, "Error: CLIENT_ID not set. Please provide it via:")
		fmt.Fprintln(a.errOut, "  1. Command line flag: --client-id=<your-client-id>")
		fmt.Fprintln(a.errOut, "  2. Environment variable: CLIENT_ID=<your-client-id>")
		fmt.Fprintln(a.errOut, "  3. .env file: CLIENT_ID=<your-client-id>")
		return errors.New("client id is required")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	warnings := configWarnings(cfg)
	for _, w := range warnings {
		fmt.Fprintf(a.errOut, "⚠️  WARNING: %s\n", w)
	}
	if len(warnings) > 0 {
		fmt.Fprintln(a.errOut)
	}

	if a.log == nil {
		log, err := newLogger(debugEnabled(a.opts))
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		a.log = log
	}

	opts := append([]session.Option{session.WithLogger(a.log)}, extra...)
	mgr, err := session.New(cfg, opts...)
	if err != nil {
		return err
	}
	a.mgr = mgr
	return nil
}

// newRootCommand builds the command tree. extra options are passed to session.New.
func newRootCommand(out, errOut io.Writer, extra ...session.Option) *cobra.Command {
	a := &app{out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "session-cli",
		Short:         "Log in with a short code and manage the local session",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup(extra...)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.clientID, "client-id", "", "OAuth client ID (or CLIENT_ID env)")
	flags.StringVar(&a.opts.dataDir, "data-dir", "", "Directory holding the session file (default: . or DATA_DIR env)")
	flags.StringVar(&a.opts.env, "env", "", "API environment: test or production (default: test or APP_ENV env)")
	flags.StringVar(&a.opts.testURL, "test-url", "", "Test API base URL (default: http://localhost:8080 or TEST_SERVER_URL env)")
	flags.StringVar(&a.opts.productionURL, "production-url", "", "Production API base URL (or SERVER_URL env)")
	flags.StringVar(&a.opts.sessionFile, "session-file", "", "Session file name (default: session.json or SESSION_FILE env)")
	flags.BoolVar(&a.opts.debug, "debug", false, "Enable debug logging (or DEBUG env)")

	root.AddCommand(
		newLoginCommand(a),
		newLogoutCommand(a),
		newWhoamiCommand(a),
		newTokenCommand(a),
		newAchievementsCommand(a),
		newCodeCommand(a),
	)
	return root
}

func main() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
