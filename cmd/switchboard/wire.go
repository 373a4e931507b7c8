package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/switchboard/internal/agent"
	"github.com/nugget/switchboard/internal/audit"
	"github.com/nugget/switchboard/internal/buildinfo"
	"github.com/nugget/switchboard/internal/classifier"
	"github.com/nugget/switchboard/internal/config"
	"github.com/nugget/switchboard/internal/crm"
	"github.com/nugget/switchboard/internal/dispatch"
	"github.com/nugget/switchboard/internal/email"
	"github.com/nugget/switchboard/internal/events"
	"github.com/nugget/switchboard/internal/handler"
	"github.com/nugget/switchboard/internal/llm"
	"github.com/nugget/switchboard/internal/notify"
	"github.com/nugget/switchboard/internal/router"
	"github.com/nugget/switchboard/internal/tools"
)

// app is the assembled routing core shared by serve, ask and dispatch.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	bus        *events.Bus
	ollama     *llm.OllamaClient
	llm        llm.Client
	crm        *crm.Client // nil when unconfigured
	router     *router.Router
	loop       *agent.Loop
	dispatcher *dispatch.Dispatcher
	store      *audit.Store
}

// buildApp wires configuration into a ready routing core. The caller
// owns the returned app and must Close it.
func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		bus:    events.New(),
	}

	a.ollama = llm.NewOllamaClient(cfg.LLM.OllamaURL, logger)
	a.llm = createLLMClient(cfg, logger, a.ollama)

	var mailer *email.Sender
	if cfg.SMTP.Configured() {
		mailer = email.NewSender(cfg.SMTP, logger)
	}

	reg := tools.NewRegistry()
	if cfg.CRM.Configured() {
		a.crm = crm.NewClient(cfg.CRM.BaseURL, cfg.CRM.APIKey, logger)
		reg.SetTicketTools(a.crm)
		reg.SetOpportunityTools(a.crm)
		reg.SetCustomerTools(a.crm)
	}

	diag := tools.DiagnosticDeps{EngineeringEmail: cfg.Diagnostics.EngineeringEmail}
	if cfg.Diagnostics.KnowledgeBaseURL != "" {
		diag.Knowledge = crm.NewKnowledgeBase(cfg.Diagnostics.KnowledgeBaseURL, logger)
	}
	if cfg.Diagnostics.LogSearchURL != "" {
		diag.Logs = crm.NewLogSearch(cfg.Diagnostics.LogSearchURL, logger)
	}
	if mailer != nil && cfg.Diagnostics.EngineeringEmail != "" {
		diag.Mailer = mailer
	}
	reg.SetDiagnosticTools(diag)

	handlers := handler.Catalog{
		LLM:          a.llm,
		Tools:        reg,
		DefaultModel: cfg.LLM.Model,
		Overrides:    handlerOverrides(cfg.Handlers),
		Logger:       logger,
	}.Build(handler.BuiltinProfiles())

	registry, err := handler.NewRegistry(handlers...)
	if err != nil {
		return nil, fmt.Errorf("handler registry: %w", err)
	}
	logger.Info("handlers registered", "handlers", registry.IDs(), "tools", reg.AllToolNames())

	cls := classifier.NewLLM(a.llm, cfg.LLM.Model, logger)
	a.router = router.NewRouter(logger, router.Config{
		HistoryWindow: cfg.Router.HistoryWindow,
		MaxAuditLog:   cfg.Router.MaxAuditLog,
	}, registry, cls, a.bus)

	a.store, err = audit.Open(cfg.Audit.Driver, cfg.Audit.Path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	a.loop = agent.NewLoop(logger, agent.Config{MaxSteps: cfg.Router.MaxSteps}, a.router, a.store, a.bus)

	// A typed nil would defeat DefaultTable's nil check.
	var notifier dispatch.Notifier
	if cfg.Notify.Enabled && mailer != nil {
		notifier = notify.New(mailer, logger, a.bus)
	}
	a.dispatcher = dispatch.New(dispatch.DefaultTable(a.loop, notifier), logger, a.bus)

	return a, nil
}

// Close releases the audit store.
func (a *app) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// handlerOverrides converts the configured handler map to catalog
// overrides, keyed by handler id.
func handlerOverrides(in map[string]config.HandlerConfig) map[handler.ID]handler.Override {
	if len(in) == 0 {
		return nil
	}
	out := make(map[handler.ID]handler.Override, len(in))
	for id, hc := range in {
		out[handler.ID(id)] = handler.Override{
			Model:    hc.Model,
			Prompt:   hc.Prompt,
			Sentinel: hc.Sentinel,
			MaxIter:  hc.MaxIter,
			Disabled: hc.Disabled,
		}
	}
	return out
}

// createLLMClient builds a multi-provider LLM client from the
// configuration. Models listed under llm.models are mapped to their
// provider; anything else goes to the configured default provider. The
// OllamaClient is created by the caller so it can be health-watched.
func createLLMClient(cfg *config.Config, logger *slog.Logger, ollamaClient *llm.OllamaClient) llm.Client {
	var openaiClient *llm.OpenAIClient
	if cfg.LLM.OpenAI.APIKey != "" {
		openaiClient = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.LLM.OpenAI.APIKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
		}, logger)
	}

	var fallback llm.Client = ollamaClient
	if cfg.LLM.Provider == "openai" && openaiClient != nil {
		fallback = openaiClient
	}

	multi := llm.NewMultiClient(fallback)
	multi.AddProvider("ollama", ollamaClient)
	if openaiClient != nil {
		multi.AddProvider("openai", openaiClient)
		logger.Info("OpenAI provider configured", "base_url", cfg.LLM.OpenAI.BaseURL)
	}

	for _, m := range cfg.LLM.Models {
		multi.AddModel(m.Name, m.Provider)
	}
	return multi
}

// statusAdapter feeds the MQTT status publisher from the router.
type statusAdapter struct {
	router *router.Router
}

func (s statusAdapter) Uptime() time.Duration     { return buildinfo.Uptime() }
func (s statusAdapter) Version() string           { return buildinfo.Version }
func (s statusAdapter) RouterStats() router.Stats { return s.router.GetStats() }
