package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	citymatch "github.com/citymatch/citymatch-go"
)

// session bundles what a command needs to talk to the backend.
type session struct {
	*citymatch.SDK
	client   *citymatch.Client
	settings *settings
	logger   zerolog.Logger
}

// newSession loads the configuration and builds an authenticated SDK. The
// caller must Close it.
func newSession(opts ...citymatch.Option) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	s, err := resolveSettings(cfg)
	if err != nil {
		return nil, err
	}
	if s.Token == "" {
		return nil, fmt.Errorf("no token configured; run 'citymatch init <token> --user-id <id>' first")
	}
	if s.UserID == "" {
		return nil, fmt.Errorf("no user id configured; run 'citymatch config set auth.user_id <id>'")
	}

	logger := citymatch.NewLogger(s.LogLevel, s.LogFormat)
	client := citymatch.NewClient(s.Token,
		citymatch.WithBaseURL(s.BaseURL),
		citymatch.WithTimeout(s.Timeout),
		citymatch.WithClientLogger(logger.With().Str("module", "client").Logger()),
	)
	opts = append([]citymatch.Option{citymatch.WithLogger(logger)}, opts...)

	return &session{
		SDK:      citymatch.NewSDK(client, s.UserID, opts...),
		client:   client,
		settings: s,
		logger:   logger,
	}, nil
}

// mustSession is newSession for commands that cannot continue without one.
func mustSession(opts ...citymatch.Option) *session {
	sess, err := newSession(opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return sess
}

func (s *session) withTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.settings.Timeout)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeError renders an operation error for the terminal.
func describeError(err error) string {
	var oe *citymatch.OperationError
	if errors.As(err, &oe) {
		return oe.Message
	}
	return err.Error()
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

// maskKey shows the first 4 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
