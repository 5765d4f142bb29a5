package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"time"

	"crm-triage/internal/audit"
	"crm-triage/internal/calls"
	"crm-triage/internal/config"
	"crm-triage/internal/eventbus"
	"crm-triage/internal/leads"
	"crm-triage/internal/reporting"
	"crm-triage/internal/triage"
	"crm-triage/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const sessionSlotPrefix = "triage:sessions:"

// app holds the long-lived components shared by handlers and background loops.
type app struct {
	closers []io.Closer

	store   calls.Store
	audit   *audit.Service
	triage  *triage.Service
	inbox   *reporting.Inbox
	sweeper *triage.Sweeper
	ready   func(ctx context.Context) error
}

func buildApp(cfg config.Config, db *sql.DB, rdb *redis.Client, log *slog.Logger) (*app, error) {
	store := calls.NewPostgresStore(db, calls.NewRedisNotifier(rdb, log), log)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	consolidator := triage.NewConsolidator(store, triage.NewRedisLocker(rdb, cfg.Triage.LockTTL), log)

	fetcher, err := newLeadFetcher(cfg.Leads, db)
	if err != nil {
		return nil, err
	}
	a := &app{store: store, audit: auditSvc}

	deps := triage.Deps{
		Store:        store,
		Leads:        sharedFetcher(fetcher, cfg.Leads.CacheTTL),
		Consolidator: consolidator,
		Audit:        auditSvc,
		Log:          log,
	}
	if cfg.Events.RabbitURL != "" {
		pub, err := eventbus.NewRabbitPublisher(eventbus.RabbitConfig{
			URL:       cfg.Events.RabbitURL,
			Queue:     cfg.Events.Queue,
			Prefix:    cfg.Events.QueuePrefix,
			Dedicated: cfg.Events.DedicatedEvents,
		}, log)
		if err != nil {
			return nil, err
		}
		deps.Publisher = pub
		a.closers = append(a.closers, pub)
	}
	if cfg.Triage.MaxSessionsPerAgent > 0 {
		slots, err := utils.NewSlotLimiter(rdb, sessionSlotPrefix, cfg.Triage.MaxSessionsPerAgent, cfg.Triage.SessionTTL)
		if err != nil {
			return nil, fmt.Errorf("session slots: %w", err)
		}
		deps.Admission = slots
	}

	opts := triage.Options{
		RingUnits:        cfg.Triage.RingUnits,
		Tick:             cfg.Triage.Tick,
		NotesDebounce:    cfg.Triage.NotesDebounce,
		LeadPollInterval: cfg.Leads.PollInterval,
		LeadClearDelay:   cfg.Leads.ClearDelay,
		LeadFetchTimeout: cfg.Leads.Timeout,
		StoreTimeout:     cfg.Triage.StoreTimeout,
	}
	svc := triage.NewService(deps, opts)

	sweeper := triage.NewSweeper(store, consolidator, opts, cfg.Triage.SweepGrace, log)
	sweeper.SetWatching(svc.Watching)

	a.triage = svc
	a.inbox = reporting.NewInbox(store, auditSvc, log)
	a.sweeper = sweeper
	a.ready = func(ctx context.Context) error {
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}
	return a, nil
}

// close releases broker connections after the sessions are gone.
func (a *app) close(log *slog.Logger) {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Warn("close failed", "err", err)
		}
	}
}

func newLeadFetcher(cfg config.LeadsConfig, db *sql.DB) (leads.Fetcher, error) {
	switch cfg.Source {
	case config.LeadSourceHTTP:
		f, err := leads.NewHTTPFetcher(leads.HTTPFetcherConfig{
			BaseURL:    cfg.APIURL,
			Token:      cfg.APIToken,
			Timeout:    cfg.Timeout,
			RetryCount: 1,
		})
		if err != nil {
			return nil, err
		}
		return f, nil
	case config.LeadSourcePostgres, "":
		return leads.NewPostgresFetcher(db), nil
	default:
		return nil, fmt.Errorf("unknown lead source %q", cfg.Source)
	}
}

// sharedFetcher puts the lead cache in front of the source so every session
// polling within the TTL costs one upstream call.
func sharedFetcher(next leads.Fetcher, ttl time.Duration) leads.Fetcher {
	if ttl <= 0 {
		return next
	}
	return leads.NewCachedFetcher(next, ttl)
}
