package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ipick/shop-analytics/internal/models"
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = errors.New("not found")

// MaxJourneyEvents caps a single journey fetch.
const MaxJourneyEvents = 250

// DefaultLimit applies when a query carries no limit.
const DefaultLimit = 100

// Query scopes a list call. Zero values mean "no restriction".
type Query struct {
	ShopIDs        []string
	BusinessDomain string
	ReferralIDs    []string
	Start          time.Time
	End            time.Time
	Limit          int
}

// limit returns the effective row limit, bounded by max when max > 0.
func (q Query) limit(max int) int {
	n := q.Limit
	if n <= 0 {
		n = DefaultLimit
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

// =============================================
// SOURCES
// =============================================

// ShopStore lists merchant shops.
type ShopStore interface {
	// ListShops returns shops served under domain, or all shops when domain is empty.
	ListShops(ctx context.Context, domain string) ([]models.Shop, error)
}

// OrderStore lists orders, newest first.
type OrderStore interface {
	ListOrders(ctx context.Context, q Query) ([]models.Order, error)
}

// CheckoutStore lists checkouts, newest first.
type CheckoutStore interface {
	ListCheckouts(ctx context.Context, q Query) ([]models.Checkout, error)
}

// ReferralStore lists affiliate referral clicks, newest first. ShopIDs
// take precedence over BusinessDomain, which only applies on its own.
type ReferralStore interface {
	ListReferrals(ctx context.Context, q Query) ([]models.Referral, error)
}

// JourneyStore lists journey events, newest first, capped at MaxJourneyEvents.
type JourneyStore interface {
	ListJourneyEvents(ctx context.Context, q Query) ([]models.JourneyEvent, error)
}

// CommerceStore groups the record sources backed by the commerce database.
type CommerceStore interface {
	ShopStore
	OrderStore
	CheckoutStore
	ReferralStore
}
