// Package app assembles a configured backend and the synchronization core
// shared by the CLI, the TUI and the MCP server.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/neilberkman/chatsync/internal/core/auth"
	"github.com/neilberkman/chatsync/internal/core/backend"
	"github.com/neilberkman/chatsync/internal/core/config"
	"github.com/neilberkman/chatsync/internal/core/db"
	"github.com/neilberkman/chatsync/internal/core/directory"
	"github.com/neilberkman/chatsync/internal/core/graphql"
	"github.com/neilberkman/chatsync/internal/core/llm"
	"github.com/neilberkman/chatsync/internal/core/maintenance"
	"github.com/neilberkman/chatsync/internal/core/models"
	"github.com/neilberkman/chatsync/internal/core/session"
	"github.com/neilberkman/chatsync/internal/core/telemetry"
	"github.com/neilberkman/chatsync/internal/core/transcript"
)

// Authenticator signs users up and in; both backends' providers satisfy it
type Authenticator interface {
	SignUp(ctx context.Context, email, password, displayName string) (*models.Identity, error)
	SignIn(ctx context.Context, email, password string) (*models.Identity, error)
}

// App is one wired backend plus the session and directory built on it
type App struct {
	Config    *config.Config
	Logger    *log.Logger
	Reporter  telemetry.Reporter
	Metrics   *telemetry.MetricsReporter
	Client    *backend.Client
	Auth      Authenticator
	Session   *session.State
	Directory *directory.Directory

	// Store is the local database; nil for the hosted backend
	Store *db.DB

	unfollow func()
}

// Option configures Open
type Option func(*options)

type options struct {
	onChange func()
	client   *http.Client
}

// WithOnChange is called whenever the directory changes
func WithOnChange(fn func()) Option {
	return func(o *options) { o.onChange = fn }
}

// WithHTTPClient sets the HTTP client for the hosted backend
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// Open builds the backend named by cfg.Backend. The session is not resolved
// until Init is called.
func Open(ctx context.Context, cfg *config.Config, logger *log.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = telemetry.NewLogger(os.Stderr, cfg.LogLevel)
	}
	metrics := telemetry.NewMetricsReporter(telemetry.NewLogReporter(logger))

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Reporter: metrics,
		Metrics:  metrics,
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SessionPath), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	file := auth.NewSessionFile(cfg.SessionPath)

	switch cfg.Backend {
	case config.BackendHosted:
		provider := auth.NewHostedProvider(cfg.AuthURL, file, o.client)
		gqlOpts := []graphql.Option{graphql.WithRateLimit(cfg.RequestsPerSecond)}
		if o.client != nil {
			gqlOpts = append(gqlOpts, graphql.WithHTTPClient(o.client))
		}
		gql := graphql.New(cfg.GraphQLURL, cfg.GraphQLWSURL, provider, gqlOpts...)
		a.Client = backend.NewClient(provider, gql, gql, gql, gql)
		a.Auth = provider
	default:
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		store, err := db.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		provider, err := newLLMProvider(ctx, cfg)
		if err != nil {
			store.Close()
			return nil, err
		}
		responder, err := llm.NewResponder(provider, store, cfg.ResponderPrompt)
		if err != nil {
			store.Close()
			return nil, err
		}
		local := auth.NewLocalProvider(store, file)
		scoped := auth.NewScopedStore(store, local, responder)
		a.Client = backend.NewClient(local, scoped, scoped, scoped, store)
		a.Auth = local
		a.Store = store
	}

	a.Session = session.New(a.Client.Session, a.Reporter)
	a.Directory = directory.New(a.Client.Directory, a.Session,
		directory.WithReporter(a.Reporter),
		directory.WithOnChange(o.onChange),
	)
	a.unfollow = a.Directory.Follow(a.Session)
	logger.Debug("backend ready", "backend", cfg.Backend)
	return a, nil
}

func newLLMProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	switch cfg.Provider {
	case config.ProviderBedrock:
		p, err := llm.NewBedrockProvider(ctx, llm.BedrockConfig{
			Region:  cfg.BedrockRegion,
			ModelID: cfg.BedrockModel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create bedrock provider: %w", err)
		}
		return p, nil
	default:
		return llm.EchoProvider{}, nil
	}
}

// Init resolves the persisted session. The directory stays empty until
// refreshed.
func (a *App) Init(ctx context.Context) error {
	return a.Session.Init(ctx)
}

// RequireIdentity returns the signed-in identity or an error telling the
// user how to sign in
func (a *App) RequireIdentity() (models.Identity, error) {
	id, ok := a.Session.Identity()
	if !ok {
		return models.Identity{}, fmt.Errorf("not signed in (run 'chatsync login')")
	}
	return id, nil
}

// SyncConfig translates configuration into synchronizer settings
func (a *App) SyncConfig() (transcript.Config, error) {
	policy, err := transcript.ParseMergePolicy(a.Config.MergePolicy)
	if err != nil {
		return transcript.Config{}, err
	}
	return transcript.Config{
		ReconcileDelay:    a.Config.ReconcileDelay,
		ReconcileAttempts: a.Config.ReconcileAttempts,
		MergePolicy:       policy,
	}, nil
}

// NewSynchronizer returns a synchronizer whose writes keep the directory
// current. Extra options are applied after the defaults.
func (a *App) NewSynchronizer(opts ...transcript.Option) (*transcript.Synchronizer, error) {
	cfg, err := a.SyncConfig()
	if err != nil {
		return nil, err
	}
	base := []transcript.Option{
		transcript.WithConfig(cfg),
		transcript.WithReporter(a.Reporter),
		transcript.WithOnActivity(a.Directory.Touch),
	}
	return transcript.New(a.Client.Transcript, a.Client.Responder, a.Session, append(base, opts...)...), nil
}

// StartMaintenance prunes expired local sign-ins until ctx ends. It does
// nothing for the hosted backend.
func (a *App) StartMaintenance(ctx context.Context) {
	if a.Store == nil {
		return
	}
	w := maintenance.NewWorker(a.Store, a.Reporter, maintenance.DefaultInterval)
	go func() { _ = w.Start(ctx) }()
}

// Close releases the session subscription and the backend
func (a *App) Close() error {
	if a.unfollow != nil {
		a.unfollow()
	}
	a.Session.Close()
	return a.Client.Close()
}
