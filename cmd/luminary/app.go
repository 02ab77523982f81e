package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/nugget/luminary/internal/agent"
	"github.com/nugget/luminary/internal/config"
	"github.com/nugget/luminary/internal/conversation"
	"github.com/nugget/luminary/internal/database"
	"github.com/nugget/luminary/internal/embeddings"
	"github.com/nugget/luminary/internal/events"
	"github.com/nugget/luminary/internal/fetch"
	"github.com/nugget/luminary/internal/jobs"
	"github.com/nugget/luminary/internal/llm"
	"github.com/nugget/luminary/internal/maintenance"
	"github.com/nugget/luminary/internal/memory"
	"github.com/nugget/luminary/internal/notify"
	"github.com/nugget/luminary/internal/planner"
	"github.com/nugget/luminary/internal/scheduler"
	"github.com/nugget/luminary/internal/search"
	"github.com/nugget/luminary/internal/summarize"
	"github.com/nugget/luminary/internal/tools"
)

// app is the fully wired runtime shared by every subcommand. Nothing in
// it runs until a subcommand starts the loops it needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *sql.DB

	bus         *events.Bus
	registry    *tools.Registry
	notes       *memory.Store
	runner      *jobs.Runner
	scheduler   *scheduler.Scheduler
	maintenance *maintenance.Worker
	loop        *agent.Loop
	mqtt        *notify.MQTT
}

// newApp opens the database and builds every component. Tools are
// registered explicitly, in one place, so the full tool surface is
// visible here.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := database.Open(cfg.DatabasePath())
	if err != nil {
		return nil, err
	}
	logger.Info("database opened", "path", cfg.DatabasePath())

	policy := llm.RetryPolicy{
		MaxRetries: cfg.LLM.Retry.MaxRetries,
		BaseDelay:  time.Duration(cfg.LLM.Retry.BaseDelayMs) * time.Millisecond,
	}
	client := createLLMClient(cfg, logger)

	embedder := embeddings.New(cfg.Embeddings, logger)
	if embedder != nil {
		logger.Info("semantic memory enabled", "provider", cfg.Embeddings.Provider, "model", cfg.Embeddings.Model)
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		bus:      events.New(),
		registry: tools.NewRegistry(logger),
		notes:    memory.NewStore(db, embedder, logger),
	}

	loc, err := time.LoadLocation(cfg.DefaultUser.Timezone)
	if err != nil {
		logger.Warn("unknown default timezone, using UTC", "timezone", cfg.DefaultUser.Timezone, "error", err)
		loc = time.UTC
	}
	channels, mq := notify.ChannelsFromConfig(cfg.Notify, logger)
	a.mqtt = mq
	notifier := notify.New(channels, a.notes, loc, logger)

	a.runner = jobs.NewRunner(
		jobs.NewStore(db),
		a.registry,
		planner.New(client, a.registry, policy, logger),
		a.notes,
		a.bus,
		logger,
	)
	a.scheduler = scheduler.New(logger, scheduler.NewStore(db), a.runner, a.bus, scheduler.Options{
		ReconcileInterval: cfg.ReconcileInterval(),
		MinInterval:       cfg.Scheduler.MinIntervalMinutes,
	})
	a.maintenance = maintenance.New(a.notes, client, a.bus, logger, maintenance.Config{
		Interval:    cfg.MaintenanceInterval(),
		VolatileAge: time.Duration(cfg.Maintenance.VolatileAgeDays) * 24 * time.Hour,
		BatchSize:   cfg.Maintenance.BatchSize,
	})

	a.registry.MustRegister(
		search.Tool(search.FromConfig(cfg.Search, logger)),
		fetch.Tool(fetch.New(cfg.Fetch, logger)),
		tools.RunBashTool(tools.NewShellExec(cfg.Shell)),
		notify.Tool(notifier),
		summarize.Tool(client, policy),
	)
	a.registry.MustRegister(a.notes.Tools()...)
	a.registry.MustRegister(a.runner.Tools()...)
	a.registry.MustRegister(a.scheduler.Tools()...)
	logger.Debug("tools registered", "tools", a.registry.Names())

	a.loop = agent.NewLoop(agent.Config{
		MaxTokens: cfg.LLM.MaxTokens,
		Retry:     policy,
		UserDefaults: memory.UserDefaults{
			DisplayName: cfg.DefaultUser.DisplayName,
			Locale:      cfg.DefaultUser.Locale,
			Timezone:    cfg.DefaultUser.Timezone,
		},
	}, client, a.registry, a.notes, conversation.NewStore(db, cfg.Conversation.MaxRows, logger), logger)
	a.loop.SetAuditLog(events.NewAuditLog(filepath.Join(cfg.DataDir, "events")))
	a.loop.SetEventBus(a.bus)

	return a, nil
}

// close waits for background jobs and releases the database.
func (a *app) close() {
	a.runner.Wait()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "error", err)
	}
}

// user resolves the acting user for CLI commands.
func (a *app) user(opts options) string {
	if opts.userID != "" {
		return opts.userID
	}
	return a.cfg.DefaultUser.ID
}

// createLLMClient picks the completion provider. An explicit provider
// wins; otherwise whichever has credentials, OpenAI first. With no
// credentials at all the client reports itself unconfigured on every
// call instead of failing startup.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	provider := cfg.LLM.Provider
	if provider == "" {
		switch {
		case cfg.LLM.OpenAI.Configured():
			provider = "openai"
		case cfg.LLM.Anthropic.Configured():
			provider = "anthropic"
		}
	}

	switch provider {
	case "openai":
		p := cfg.LLM.OpenAI
		if !p.Configured() {
			return llm.Unconfigured{Reason: "OPENAI_API_KEY is not set"}
		}
		logger.Info("LLM client initialized", "provider", provider, "model", p.Model)
		return llm.NewOpenAIClient(p.APIKey, p.Model, p.BaseURL, cfg.LLM.MaxTokens, logger)
	case "anthropic":
		p := cfg.LLM.Anthropic
		if !p.Configured() {
			return llm.Unconfigured{Reason: "ANTHROPIC_API_KEY is not set"}
		}
		logger.Info("LLM client initialized", "provider", provider, "model", p.Model)
		return llm.NewAnthropicClient(p.APIKey, p.Model, p.BaseURL, cfg.LLM.MaxTokens, logger)
	default:
		logger.Warn("no LLM credentials configured; chat and planning will report errors")
		return llm.Unconfigured{Reason: "set ANTHROPIC_API_KEY or OPENAI_API_KEY"}
	}
}

// setup loads config, builds the logger and wires the app.
func setup(opts options, logOut io.Writer) (*app, error) {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(logOut, cfg)
	if err != nil {
		return nil, err
	}
	if cfgPath == "" {
		logger.Info("no config file found, using defaults")
	} else {
		logger.Info("config loaded", "path", cfgPath)
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("startup: %w", err)
	}
	return a, nil
}
