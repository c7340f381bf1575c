package main

import (
	"context"
	"fmt"

	"github.com/daviddao/poflow/internal/auth"
	"github.com/daviddao/poflow/internal/classify"
	"github.com/daviddao/poflow/internal/clock"
	"github.com/daviddao/poflow/internal/compose"
	"github.com/daviddao/poflow/internal/engine"
	"github.com/daviddao/poflow/internal/extract"
	"github.com/daviddao/poflow/internal/llm"
	"github.com/daviddao/poflow/internal/mailbox"
	"github.com/daviddao/poflow/internal/retry"
	"github.com/daviddao/poflow/internal/rules"
	"github.com/daviddao/poflow/internal/scheduler"
	"github.com/daviddao/poflow/internal/store"
)

// app is the wired decision stack shared by the commands.
type app struct {
	store   *store.Store
	engine  *engine.Engine
	catalog *rules.Catalog

	// inbox is nil when no mailbox account is configured.
	inbox *mailbox.Inbox
}

func newStore() *store.Store {
	return store.New(database, store.Config{
		POTTL:     cfg.Cache.PO,
		ThreadTTL: cfg.Cache.Thread,
		ListTTL:   cfg.Cache.List,
		Retry: retry.New(
			retry.WithRetries(cfg.Retry.Attempts-1),
			retry.WithDelays(cfg.Retry.InitialDelay, cfg.Retry.MaxDelay),
			retry.WithLogger(logger),
		),
		Clock: clock.System{},
		Log:   logger,
	})
}

// loadCatalog returns the configured catalog. Its diagnostics are logged;
// a broken file leaves the engine with the rules that did parse.
func loadCatalog() *rules.Catalog {
	c := rules.Default()
	if cfg.Rules.Path != "" {
		c = rules.Load(cfg.Rules.Path)
	}
	for _, issue := range c.Issues {
		if issue.Severity == rules.SeverityError {
			logger.Error("Rule catalog problem", "component", "rules", "issue", issue.String())
		} else {
			logger.Warn("Rule catalog warning", "component", "rules", "issue", issue.String())
		}
	}
	return c
}

// newApp wires store, classifier, composer, transport and engine.
func newApp(ctx context.Context) (*app, error) {
	st := newStore()

	var model llm.Completer
	if cl := llm.New(cfg.LLM); cl != nil {
		model = cl
	}

	var transport engine.Transport
	var inbox *mailbox.Inbox
	if cfg.Mailbox.Account != "" {
		svc, err := auth.LoadGmailService(ctx, mailboxPaths(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect mailbox %s: %w", cfg.Mailbox.Account, err)
		}
		api := mailbox.NewService(svc)
		transport = mailbox.NewTransport(api, cfg.Mailbox.Account)
		inbox = mailbox.NewInbox(api, st, mailbox.Config{
			Account:   cfg.Mailbox.Account,
			Query:     cfg.Mailbox.Query,
			BatchSize: cfg.Mailbox.BatchSize,
			MarkRead:  cfg.Mailbox.MarkRead,
			Log:       logger,
		})
	} else {
		domain := ""
		if len(cfg.Routing.InternalDomains) > 0 {
			domain = cfg.Routing.InternalDomains[0]
		}
		transport = mailbox.NewLogTransport(domain, logger)
		logger.Warn("No mailbox configured; outbound mail is logged, not sent")
	}

	catalog := loadCatalog()
	eng := engine.New(engine.Config{
		Store: st,
		Classifier: classify.New(st, classify.Config{
			InternalDomains: cfg.Routing.InternalDomains,
			LLM:             model,
			Log:             logger,
		}),
		Composer:  compose.New(model, logger),
		Transport: transport,
		Rules:     catalog,
		Extractor: extract.NewModel(model, logger),
		Routing: engine.Routing{
			FinanceEmail:     cfg.Routing.FinanceEmail,
			EngineeringEmail: cfg.Routing.EngineeringEmail,
		},
		Sender:   cfg.Mailbox.Account,
		ReplyETA: cfg.Engine.ReplyETA,
		Clock:    clock.System{},
		Log:      logger,
	})

	return &app{store: st, engine: eng, catalog: catalog, inbox: inbox}, nil
}

func mailboxPaths() auth.Paths {
	return auth.Paths{
		Credentials: cfg.Mailbox.Credentials,
		TokenDir:    cfg.Mailbox.TokenDir,
		Account:     cfg.Mailbox.Account,
	}
}

// scheduler returns a scheduler over the app. The inbox interface stays
// nil when no mailbox is configured.
func (a *app) scheduler() *scheduler.Scheduler {
	var inbox scheduler.Inbox
	if a.inbox != nil {
		inbox = a.inbox
	}
	return scheduler.New(scheduler.Config{
		Engine:           a.engine,
		Store:            a.store,
		Inbox:            inbox,
		Tick:             cfg.Scheduler.Tick,
		SystemCheckEvery: cfg.Scheduler.SystemCheckEvery,
		RateLimitBackoff: cfg.Scheduler.RateLimitBackoff,
		Clock:            clock.System{},
		Log:              logger,
	})
}
