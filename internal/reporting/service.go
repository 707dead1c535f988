// Package reporting is the single entry point for analytics reports. It
// fetches records from storage, enriches them, runs the analytics engine
// and caches the encoded envelope.
package reporting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ipick/shop-analytics/internal/analytics"
	"github.com/ipick/shop-analytics/internal/geo"
	"github.com/ipick/shop-analytics/internal/metrics"
	"github.com/ipick/shop-analytics/internal/models"
	"github.com/ipick/shop-analytics/internal/storage"
)

var (
	// ErrNoShops is returned when an explicit business domain matches no shop.
	ErrNoShops = errors.New("no shops found for business domain")
	// ErrInvalidFilter is returned for malformed filter values.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrUpstream hides storage failures from callers. Details are logged.
	ErrUpstream = errors.New("failed to load analytics data")
)

const (
	reportDashboard = "dashboard"
	reportAffiliate = "affiliate_orders"
	reportJourneys  = "journeys"

	// journeysPerLimit scales the requested limit into a journey event cap.
	journeysPerLimit = 10
	// journeyReferralLimit bounds the referral ids a journey fetch is scoped to.
	journeyReferralLimit = 1000
)

// Dependencies for the reporting service.
type Dependencies struct {
	Commerce storage.CommerceStore
	Journeys storage.JourneyStore
	Engine   *analytics.Engine
	Geo      *geo.Resolver // optional
	Cache    Cache         // optional
	CacheTTL time.Duration
	Metrics  *metrics.Metrics // optional
	Logger   *zap.Logger
	Now      func() time.Time
}

// Service builds analytics reports.
type Service struct {
	commerce storage.CommerceStore
	journeys storage.JourneyStore
	engine   *analytics.Engine
	geo      *geo.Resolver
	cache    Cache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates a reporting service.
func NewService(deps Dependencies) *Service {
	s := &Service{
		commerce: deps.Commerce,
		journeys: deps.Journeys,
		engine:   deps.Engine,
		geo:      deps.Geo,
		cache:    deps.Cache,
		cacheTTL: deps.CacheTTL,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		now:      deps.Now,
	}
	if s.engine == nil {
		s.engine = analytics.NewEngine(nil, analytics.DefaultPageSizes())
	}
	if s.cache == nil || s.cacheTTL <= 0 {
		s.cache = NoopCache{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// fetchPlan says which record sets a report reads.
type fetchPlan struct {
	commerce bool
	journeys bool
}

// Dashboard returns the encoded full dashboard envelope.
func (s *Service) Dashboard(ctx context.Context, f analytics.Filters) ([]byte, error) {
	return s.run(ctx, reportDashboard, f, fetchPlan{commerce: true, journeys: true}, func(in analytics.Input) (any, error) {
		d, err := s.engine.Build(in)
		if err != nil {
			return nil, err
		}
		s.recordAttribution(d.Attributed)
		return d, nil
	})
}

// AffiliateOrders returns the encoded attribution-only envelope.
func (s *Service) AffiliateOrders(ctx context.Context, f analytics.Filters) ([]byte, error) {
	return s.run(ctx, reportAffiliate, f, fetchPlan{commerce: true}, func(in analytics.Input) (any, error) {
		r := s.engine.Affiliate(in)
		s.recordAttribution(r.Attributed)
		return r, nil
	})
}

// Journeys returns the encoded funnel report envelope.
func (s *Service) Journeys(ctx context.Context, f analytics.Filters) ([]byte, error) {
	return s.run(ctx, reportJourneys, f, fetchPlan{journeys: true}, func(in analytics.Input) (any, error) {
		return s.engine.Journey(in.Journeys)
	})
}

func (s *Service) run(ctx context.Context, report string, f analytics.Filters, plan fetchPlan, build func(analytics.Input) (any, error)) ([]byte, error) {
	start := time.Now()
	key := cacheKey(report, f)

	if body, ok := s.cachedEnvelope(ctx, key); ok {
		return body, nil
	}

	in, err := s.fetch(ctx, f, plan)
	if err != nil {
		s.recordBuild(report, "error", start)
		return nil, err
	}

	data, err := build(in)
	if err != nil {
		s.logger.Error("Failed to build report",
			zap.String("report", report),
			zap.String("business_domain", f.BusinessDomain),
			zap.Error(err),
		)
		s.recordBuild(report, "error", start)
		return nil, fmt.Errorf("build %s: %w", report, err)
	}

	body, err := json.Marshal(analytics.Succeed(data, f, in.Now))
	if err != nil {
		s.recordBuild(report, "error", start)
		return nil, fmt.Errorf("encode %s: %w", report, err)
	}

	if err := s.cache.Set(ctx, key, body, s.cacheTTL); err != nil {
		s.logger.Warn("Failed to cache report", zap.String("report", report), zap.Error(err))
	}
	s.recordBuild(report, "success", start)
	return body, nil
}

func (s *Service) cachedEnvelope(ctx context.Context, key string) ([]byte, bool) {
	body, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("Report cache lookup failed", zap.Error(err))
		ok = false
	}
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(ok)
	}
	return body, ok
}

// fetch loads every record set the plan asks for.
func (s *Service) fetch(ctx context.Context, f analytics.Filters, plan fetchPlan) (analytics.Input, error) {
	in := analytics.Input{Filters: f, Now: s.now()}

	q, err := queryFor(f)
	if err != nil {
		return in, err
	}

	shops, err := timed(s, "shops", func() ([]models.Shop, error) {
		return s.commerce.ListShops(ctx, f.BusinessDomain)
	})
	if err != nil {
		return in, err
	}
	if f.BusinessDomain != "" && len(shops) == 0 {
		return in, fmt.Errorf("%w: %s", ErrNoShops, f.BusinessDomain)
	}
	in.Shops = shops
	if f.BusinessDomain != "" {
		q.ShopIDs = make([]string, 0, len(shops))
		for _, shop := range shops {
			q.ShopIDs = append(q.ShopIDs, shop.ID)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if plan.commerce {
		g.Go(func() error {
			orders, err := timed(s, "orders", func() ([]models.Order, error) {
				return s.commerce.ListOrders(gctx, q)
			})
			in.Orders = orders
			return err
		})
		g.Go(func() error {
			checkouts, err := timed(s, "checkouts", func() ([]models.Checkout, error) {
				return s.commerce.ListCheckouts(gctx, q)
			})
			in.Checkouts = checkouts
			return err
		})
		g.Go(func() error {
			referrals, err := timed(s, "referrals", func() ([]models.Referral, error) {
				return s.commerce.ListReferrals(gctx, q)
			})
			in.Referrals = referrals
			return err
		})
	}

	if plan.journeys {
		g.Go(func() error {
			events, err := s.fetchJourneys(gctx, f, q)
			in.Journeys = events
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return in, err
	}

	if s.geo != nil && len(in.Journeys) > 0 {
		if n := s.geo.Backfill(in.Journeys); n > 0 {
			s.logger.Debug("Backfilled journey countries", zap.Int("events", n))
		}
	}
	if s.metrics != nil && plan.journeys {
		s.metrics.RecordJourneyBatch(len(in.Journeys))
	}
	return in, nil
}

// fetchJourneys scopes events through the referrals recorded under the
// requested business domain string.
func (s *Service) fetchJourneys(ctx context.Context, f analytics.Filters, q storage.Query) ([]models.JourneyEvent, error) {
	jq := storage.Query{Start: q.Start, End: q.End, Limit: journeyLimit(f.Limit)}
	if f.BusinessDomain != "" {
		referrals, err := timed(s, "journey_referrals", func() ([]models.Referral, error) {
			return s.commerce.ListReferrals(ctx, storage.Query{
				BusinessDomain: f.BusinessDomain,
				Start:          q.Start,
				End:            q.End,
				Limit:          journeyReferralLimit,
			})
		})
		if err != nil {
			return nil, err
		}
		if len(referrals) == 0 {
			return []models.JourneyEvent{}, nil
		}
		jq.ReferralIDs = make([]string, 0, len(referrals))
		for _, r := range referrals {
			jq.ReferralIDs = append(jq.ReferralIDs, r.ID)
		}
	}
	return timed(s, "journeys", func() ([]models.JourneyEvent, error) {
		return s.journeys.ListJourneyEvents(ctx, jq)
	})
}

// timed runs one upstream fetch with metrics and logging. The returned
// error is ErrUpstream; the cause only reaches the log.
func timed[T any](s *Service, source string, fetch func() ([]T, error)) ([]T, error) {
	start := time.Now()
	rows, err := fetch()
	if s.metrics != nil {
		s.metrics.RecordFetch(source, time.Since(start), err)
	}
	if err != nil {
		s.logger.Error("Upstream fetch failed",
			zap.String("source", source),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %s", ErrUpstream, source)
	}
	if rows == nil {
		rows = []T{}
	}
	return rows, nil
}

func (s *Service) recordBuild(report, status string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordBuild(report, status, time.Since(start))
	}
}

func (s *Service) recordAttribution(orders []analytics.AttributedOrder) {
	if s.metrics == nil {
		return
	}
	for _, o := range orders {
		amount, _ := o.Amount.Float64()
		s.metrics.RecordAttribution(string(o.Attribution.MatchMethod), o.Attribution.IsAffiliateOrder, amount)
	}
}

// queryFor converts request filters into a storage query.
func queryFor(f analytics.Filters) (storage.Query, error) {
	q := storage.Query{BusinessDomain: f.BusinessDomain, Limit: f.Limit}
	var err error
	if f.StartDate != "" {
		if q.Start, err = analytics.ParseTimestamp(f.StartDate); err != nil {
			return q, fmt.Errorf("%w: startDate: %v", ErrInvalidFilter, err)
		}
	}
	if f.EndDate != "" {
		if q.End, err = analytics.ParseTimestamp(f.EndDate); err != nil {
			return q, fmt.Errorf("%w: endDate: %v", ErrInvalidFilter, err)
		}
	}
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		return q, fmt.Errorf("%w: endDate before startDate", ErrInvalidFilter)
	}
	return q, nil
}

func journeyLimit(limit int) int {
	if limit <= 0 {
		limit = storage.DefaultLimit
	}
	return min(limit*journeysPerLimit, storage.MaxJourneyEvents)
}

func cacheKey(report string, f analytics.Filters) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%s|%d", report, f.BusinessDomain, f.StartDate, f.EndDate, f.Limit)))
	return report + ":" + hex.EncodeToString(sum[:12])
}
