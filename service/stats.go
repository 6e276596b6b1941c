package service

import (
	"context"
	"net/url"
	"strings"

	"github.com/warp/finance-engine/analytics"
	"github.com/warp/finance-engine/cache"
	"github.com/warp/finance-engine/ledger"
)

// Cache endpoint names. Each one is a separate key space under the user's prefix.
const (
	EndpointDashboard       = "dashboard"
	EndpointStatsSummary    = "stats_summary"
	EndpointStatsCategories = "stats_categories"
)

// Dashboard returns the all-time snapshot. params is the raw query string;
// "refresh" forces recomputation.
func (s *Service) Dashboard(ctx context.Context, user ledger.UserID, params url.Values) (analytics.Dashboard, cache.Status, error) {
	if _, err := ledger.EnsureDefaultAccount(ctx, s.store, user); err != nil {
		return analytics.Dashboard{}, cache.Miss, err
	}
	req := cache.Request{Endpoint: EndpointDashboard, User: user, Params: params}
	return cache.ReadThrough(ctx, s.cache, req, func(ctx context.Context) (analytics.Dashboard, error) {
		return s.engine.Dashboard(ctx, user)
	})
}

// Summary totals the user's transactions over the from/to params.
// Malformed dates are treated as unbounded.
func (s *Service) Summary(ctx context.Context, user ledger.UserID, params url.Values) (analytics.Summary, cache.Status, error) {
	r := ledger.ParseDateRange(params.Get("from"), params.Get("to"))
	req := cache.Request{Endpoint: EndpointStatsSummary, User: user, Params: params}
	return cache.ReadThrough(ctx, s.cache, req, func(ctx context.Context) (analytics.Summary, error) {
		return s.engine.Summary(ctx, user, r)
	})
}

// ByCategory breaks the user's transactions of params "type" (default
// EXPENSE) down by category.
func (s *Service) ByCategory(ctx context.Context, user ledger.UserID, params url.Values) ([]analytics.CategoryTotal, cache.Status, error) {
	typ := ledger.TxType(strings.ToUpper(strings.TrimSpace(params.Get("type"))))
	if typ == "" {
		typ = ledger.Expense
	}
	if !typ.Valid() {
		return nil, cache.Miss, ledger.FieldError("type", "must be INCOME or EXPENSE")
	}

	r := ledger.ParseDateRange(params.Get("from"), params.Get("to"))
	req := cache.Request{Endpoint: EndpointStatsCategories, User: user, Params: params}
	return cache.ReadThrough(ctx, s.cache, req, func(ctx context.Context) ([]analytics.CategoryTotal, error) {
		return s.engine.ByCategory(ctx, user, typ, r)
	})
}
