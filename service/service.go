/*
service.go - Application services over the ledger

PURPOSE:
  Composes the store, aggregation engine, cache and notification
  dispatcher into the operations the HTTP layer calls. Handlers never
  touch the store directly.

MUTATION PIPELINE:
  Every write follows the same three stages:
    1. validate   input checks and ownership of referenced rows
    2. commit     the store write (or one WithTx unit of work)
    3. afterCommit  invalidate the user's cache namespace, then dispatch
                    any notifications the write triggered

  Stage 3 runs only after stage 2 succeeded and never changes the
  result: cache and notification failures are logged and dropped.

FILES:
  accounts.go, categories.go, transactions.go, debts.go   ledger CRUD
  settlement.go       debt close workflow
  stats.go            cached aggregates
  notifications.go    notification inbox, devices, calendar events

SEE ALSO:
  - ledger/store.go: persistence contract
  - cache/cache.go: per-user invalidation
  - notify/dispatcher.go: persist, broadcast, push
*/
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/warp/finance-engine/analytics"
	"github.com/warp/finance-engine/cache"
	"github.com/warp/finance-engine/ledger"
	"github.com/warp/finance-engine/motivation"
	"github.com/warp/finance-engine/notify"
)

// Messages reported on the referencing field when a row belongs to someone else.
const (
	msgForeignAccount  = "Нельзя использовать чужой account."
	msgForeignCategory = "Нельзя использовать чужую category."
)

// Notifier persists and delivers a notification. notify.Dispatcher implements it.
type Notifier interface {
	Notify(ctx context.Context, n ledger.Notification) (ledger.Notification, error)
}

var _ Notifier = (*notify.Dispatcher)(nil)

// Service is safe for concurrent use.
type Service struct {
	store     ledger.Store
	engine    *analytics.Engine
	cache     *cache.Cache
	notifier  Notifier
	generator motivation.Generator
	rules     ledger.Rules
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

// WithCache replaces the default in-process cache.
func WithCache(c *cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithNotifier replaces the default persist-only dispatcher.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithGenerator(g motivation.Generator) Option {
	return func(s *Service) { s.generator = g }
}

func WithRules(r ledger.Rules) Option {
	return func(s *Service) { s.rules = r }
}

// WithClock overrides time.Now for settlement and close timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New builds a Service. Without options it caches in memory and only
// persists notifications.
func New(store ledger.Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		engine:    analytics.NewEngine(store),
		generator: motivation.Templates{},
		rules:     ledger.DefaultRules(),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.New(cache.NewMemory(), cache.WithLogger(s.logger))
	}
	if s.notifier == nil {
		s.notifier = notify.NewDispatcher(store, nil, nil, notify.WithLogger(s.logger))
	}
	return s
}

// =============================================================================
// SIDE-EFFECT STAGE
// =============================================================================

// afterCommit invalidates user's cached aggregates and dispatches notes.
// It outlives request cancellation so a client disconnect cannot leave
// a stale cache behind a committed write.
func (s *Service) afterCommit(ctx context.Context, user ledger.UserID, notes ...ledger.Notification) {
	ctx = context.WithoutCancel(ctx)
	s.cache.Invalidate(ctx, user)
	s.dispatch(ctx, user, notes...)
}

// dispatch hands notes to the notifier, logging failures.
func (s *Service) dispatch(ctx context.Context, user ledger.UserID, notes ...ledger.Notification) {
	for _, n := range notes {
		if _, err := s.notifier.Notify(ctx, n); err != nil {
			s.logger.Warn("notification dropped",
				"user_id", user,
				"title", n.Title,
				"error", err,
			)
		}
	}
}

// motivational renders event into a SYSTEM notification. payload
// correlates it with the source rows and always carries the event name.
func (s *Service) motivational(user ledger.UserID, event ledger.Event, c motivation.Context, payload map[string]any) ledger.Notification {
	msg := s.generator.Generate(event, c)
	if payload == nil {
		payload = make(map[string]any)
	}
	payload["event"] = string(event)
	return ledger.Notification{
		UserID:  user,
		Type:    ledger.NotificationSystem,
		Title:   msg.Title,
		Body:    msg.Body,
		Payload: payload,
	}
}
