package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/ipick/shop-analytics/internal/analytics"
	"github.com/ipick/shop-analytics/internal/models"
)

// InMemoryStore serves every record source from memory. It backs tests and
// local runs without databases.
type InMemoryStore struct {
	mu        sync.RWMutex
	shops     []models.Shop
	orders    []models.Order
	checkouts []models.Checkout
	referrals []models.Referral
	journeys  []models.JourneyEvent
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

// Fixture is the on-disk seed format for the in-memory store.
type Fixture struct {
	Shops     []models.Shop         `json:"shops"`
	Orders    []models.Order        `json:"orders"`
	Checkouts []models.Checkout     `json:"checkouts"`
	Referrals []models.Referral     `json:"referrals"`
	Journeys  []models.JourneyEvent `json:"journeys"`
}

// LoadFixture reads a JSON fixture file into the store.
func (s *InMemoryStore) LoadFixture(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read fixture: %w", err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to decode fixture: %w", err)
	}
	s.AddShops(f.Shops...)
	s.AddOrders(f.Orders...)
	s.AddCheckouts(f.Checkouts...)
	s.AddReferrals(f.Referrals...)
	s.AddJourneyEvents(f.Journeys...)
	return nil
}

func (s *InMemoryStore) AddShops(shops ...models.Shop) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shops = append(s.shops, shops...)
}

func (s *InMemoryStore) AddOrders(orders ...models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, orders...)
}

func (s *InMemoryStore) AddCheckouts(checkouts ...models.Checkout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkouts = append(s.checkouts, checkouts...)
}

func (s *InMemoryStore) AddReferrals(referrals ...models.Referral) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referrals = append(s.referrals, referrals...)
}

func (s *InMemoryStore) AddJourneyEvents(events ...models.JourneyEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journeys = append(s.journeys, events...)
}

// =============================================
// Reads
// =============================================

func (s *InMemoryStore) ListShops(ctx context.Context, domain string) ([]models.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Shop, 0, len(s.shops))
	for _, shop := range s.shops {
		if domain == "" || shop.MatchesDomain(domain) {
			out = append(out, shop)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListOrders(ctx context.Context, q Query) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterNewest(s.orders, q, q.limit(0), func(o models.Order) (string, string) {
		return o.ShopID, o.CreatedAt
	}), nil
}

func (s *InMemoryStore) ListCheckouts(ctx context.Context, q Query) ([]models.Checkout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return filterNewest(s.checkouts, q, q.limit(0), func(c models.Checkout) (string, string) {
		return c.ShopID, c.CreatedAt
	}), nil
}

func (s *InMemoryStore) ListReferrals(ctx context.Context, q Query) ([]models.Referral, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Shop ids win over the raw domain string, which is only used to scope
	// journey events.
	scoped := s.referrals
	if len(q.ShopIDs) == 0 && q.BusinessDomain != "" {
		scoped = make([]models.Referral, 0, len(s.referrals))
		for _, r := range s.referrals {
			if r.BusinessDomain == q.BusinessDomain {
				scoped = append(scoped, r)
			}
		}
	}
	q.BusinessDomain = ""
	return filterNewest(scoped, q, q.limit(0), func(r models.Referral) (string, string) {
		return r.ShopID, r.ClickedAt
	}), nil
}

func (s *InMemoryStore) ListJourneyEvents(ctx context.Context, q Query) ([]models.JourneyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scoped := s.journeys
	if len(q.ReferralIDs) > 0 {
		ids := make(map[string]struct{}, len(q.ReferralIDs))
		for _, id := range q.ReferralIDs {
			ids[id] = struct{}{}
		}
		scoped = make([]models.JourneyEvent, 0, len(s.journeys))
		for _, e := range s.journeys {
			if _, ok := ids[e.BusinessReferral]; ok {
				scoped = append(scoped, e)
			}
		}
	}
	q.ShopIDs = nil
	return filterNewest(scoped, q, q.limit(MaxJourneyEvents), func(e models.JourneyEvent) (string, string) {
		return "", e.Timestamp
	}), nil
}

// filterNewest applies shop and time filters, orders newest first and cuts
// to limit. Records whose timestamp does not parse are kept and sort last;
// rejecting them is the engine's call.
func filterNewest[T any](records []T, q Query, limit int, key func(T) (shopID, ts string)) []T {
	shops := make(map[string]struct{}, len(q.ShopIDs))
	for _, id := range q.ShopIDs {
		shops[id] = struct{}{}
	}

	type row struct {
		rec T
		at  time.Time
		ok  bool
	}
	rows := make([]row, 0, len(records))
	for _, rec := range records {
		shopID, ts := key(rec)
		if len(shops) > 0 {
			if _, ok := shops[shopID]; !ok {
				continue
			}
		}
		at, err := analytics.ParseTimestamp(ts)
		if err == nil {
			if !q.Start.IsZero() && at.Before(q.Start) {
				continue
			}
			if !q.End.IsZero() && at.After(q.End) {
				continue
			}
		}
		rows = append(rows, row{rec: rec, at: at, ok: err == nil})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ok != rows[j].ok {
			return rows[i].ok
		}
		return rows[i].at.After(rows[j].at)
	})

	out := make([]T, 0, min(len(rows), limit))
	for _, r := range rows {
		if len(out) == limit {
			break
		}
		out = append(out, r.rec)
	}
	return out
}
