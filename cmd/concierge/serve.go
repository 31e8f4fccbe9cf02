package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/haasonsaas/concierge/internal/auth"
	"github.com/haasonsaas/concierge/internal/config"
	"github.com/haasonsaas/concierge/internal/gateway"
	"github.com/haasonsaas/concierge/internal/integrations/googleapi"
	"github.com/haasonsaas/concierge/internal/integrations/linear"
	"github.com/haasonsaas/concierge/internal/orchestrator"
	"github.com/haasonsaas/concierge/internal/ratelimit"
	"github.com/haasonsaas/concierge/internal/router"
	"github.com/haasonsaas/concierge/internal/router/providers"
	"github.com/haasonsaas/concierge/internal/security"
	"github.com/haasonsaas/concierge/internal/stepup"
	"github.com/haasonsaas/concierge/internal/tools"
	"github.com/haasonsaas/concierge/internal/vault"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the concierge engine",
		Long: `Start the concierge engine: the credential vault, action catalog,
confirmation policy engine, model router, and HTTP gateway.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "concierge.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	cipher, err := vault.NewCipherFromBase64(cfg.Security.EncryptionKey)
	if err != nil {
		return err
	}

	var (
		vaultStore vault.Store
		prefsStore security.PrefsStore
		codeStore  stepup.CodeStore
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := vault.NewPostgresStore(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		db, err := openDB(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		vaultStore = pg
		prefsStore = security.NewPostgresPrefsStore(db)
		codeStore = stepup.NewPostgresCodeStore(db)
	default:
		vaultStore = vault.NewMemoryStore()
		prefsStore = security.NewMemoryPrefsStore()
		codeStore = stepup.NewMemoryCodeStore()
	}

	v := vault.New(vaultStore, cipher, vault.Options{
		OAuth:  oauthConfigs(cfg),
		Logger: logger,
	})

	registry, err := tools.BuildRegistry(tools.Deps{
		Vault:        v,
		Google:       googleapi.NewClient(googleapi.Options{}),
		Linear:       linear.NewClient(linear.Options{}),
		LinearTeamID: cfg.Integrations.Linear.TeamID,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	providerChain, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}
	modelRouter := router.New(providerChain, router.Options{
		AttemptTimeout: cfg.LLM.AttemptTimeout,
		Logger:         logger,
	})

	engine := security.NewEngine(registry.Policies())
	orch := orchestrator.New(modelRouter, registry, engine, prefsStore, orchestrator.Options{
		Logger: logger,
	})
	verifier := stepup.NewVerifier(codeStore, prefsStore, stepup.Options{Logger: logger})

	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.Burst,
		Enabled:           cfg.RateLimit.Enabled,
	})

	server := gateway.NewServer(orch, gateway.Options{
		JWT:      auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry),
		Verifier: verifier,
		Limiter:  limiter,
		Logger:   logger,
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("starting concierge", "version", version, "addr", addr,
		"providers", modelRouter.Providers(), "storage", cfg.Storage.Driver)
	return server.ListenAndServe(ctx, addr, cfg.Server.ShutdownTimeout)
}

func buildProviders(ctx context.Context, cfg *config.Config) ([]router.Provider, error) {
	var chain []router.Provider
	for _, name := range cfg.LLM.ProviderOrder {
		pc, ok := cfg.LLM.Providers[name]
		if !ok || pc.APIKey == "" {
			continue
		}
		switch name {
		case "anthropic":
			p, err := providers.NewAnthropic(providers.AnthropicConfig{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Model:   pc.Model,
			})
			if err != nil {
				return nil, err
			}
			chain = append(chain, p)
		case "openai":
			p, err := providers.NewOpenAI(providers.OpenAIConfig{
				APIKey:  pc.APIKey,
				BaseURL: pc.BaseURL,
				Model:   pc.Model,
			})
			if err != nil {
				return nil, err
			}
			chain = append(chain, p)
		case "google":
			p, err := providers.NewGoogle(ctx, providers.GoogleConfig{
				APIKey: pc.APIKey,
				Model:  pc.Model,
			})
			if err != nil {
				return nil, err
			}
			chain = append(chain, p)
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no llm provider is configured with an api key")
	}
	return chain, nil
}

func oauthConfigs(cfg *config.Config) map[string]*oauth2.Config {
	configs := map[string]*oauth2.Config{}
	if g := cfg.Integrations.Google; g.ClientID != "" {
		configs["google"] = &oauth2.Config{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			Endpoint:     google.Endpoint,
		}
	}
	return configs
}

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
