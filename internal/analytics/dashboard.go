package analytics

import (
	"strings"
	"time"

	"github.com/ipick/shop-analytics/internal/models"
)

const (
	allBusinesses   = "All Businesses"
	defaultCurrency = "EUR"
)

// Filters are the request parameters echoed back in the envelope.
type Filters struct {
	BusinessDomain string `json:"businessDomain,omitempty"`
	StartDate      string `json:"startDate,omitempty"`
	EndDate        string `json:"endDate,omitempty"`
	Limit          int    `json:"limit"`
}

// PageSizes caps the list fields of the dashboard.
type PageSizes struct {
	RecentOrders    int
	RecentCheckouts int
	RecentReferrals int
	RecentJourneys  int
	TopPages        int
	TopLists        int
}

// DefaultPageSizes returns the sizes existing dashboard consumers expect.
func DefaultPageSizes() PageSizes {
	return PageSizes{
		RecentOrders:    20,
		RecentCheckouts: 20,
		RecentReferrals: 10,
		RecentJourneys:  20,
		TopPages:        10,
		TopLists:        10,
	}
}

// Input is one dashboard request's worth of already fetched records.
// Lists are expected newest first.
type Input struct {
	Filters   Filters
	Now       time.Time
	Shops     []models.Shop
	Journeys  []models.JourneyEvent
	Orders    []models.Order
	Checkouts []models.Checkout
	Referrals []models.Referral
}

// OrderView is an order annotated with its attribution.
type OrderView struct {
	models.Order
	Attribution
}

// CheckoutView flags checkouts that arrived through the comparison site.
type CheckoutView struct {
	models.Checkout
	IsAffiliateReferral bool `json:"isAffiliateReferral"`
}

// ReferralView flags referrals carrying the comparison site's source.
type ReferralView struct {
	models.Referral
	IsIpick bool `json:"isIpick"`
}

// Summary is the headline block of the dashboard.
type Summary struct {
	TotalBusinesses     int     `json:"totalBusinesses"`
	BusinessDomain      string  `json:"businessDomain"`
	TotalCheckouts      int     `json:"totalCheckouts"`
	CompletedCheckouts  int     `json:"completedCheckouts"`
	ConversionRate      float64 `json:"conversionRate"`
	TotalOrders         int     `json:"totalOrders"`
	AffiliateOrders     int     `json:"affiliateOrders"`
	DirectOrders        int     `json:"directOrders"`
	AffiliatePercentage float64 `json:"affiliatePercentage"`
	TotalRevenue        Money   `json:"totalRevenue"`
	AffiliateRevenue    Money   `json:"affiliateRevenue"`
	DirectRevenue       Money   `json:"directRevenue"`
	Currency            string  `json:"currency"`
}

// Dashboard is the merchant dashboard payload.
type Dashboard struct {
	Summary            Summary            `json:"summary"`
	Businesses         []models.Shop      `json:"businesses"`
	RecentCheckouts    []CheckoutView     `json:"recentCheckouts"`
	RecentOrders       []OrderView        `json:"recentOrders"`
	ReferralStatistics ReferralStatistics `json:"referralStatistics"`
	Trends             Trends             `json:"trends"`
	OrderStatuses      map[string]int     `json:"orderStatuses"`
	RecentReferrals    []ReferralView     `json:"recentReferrals"`
	AffiliateOrders    []OrderView        `json:"affiliateOrders"`
	Journey            FunnelReport       `json:"journey"`
	ReferralSources    []ReferralSource   `json:"referralSources"`
	ConversionMetrics  ConversionMetrics  `json:"conversionMetrics"`
	AverageOrderValues AverageOrderValues `json:"averageOrderValues"`
	DetectionMethods   DetectionMethods   `json:"detectionMethods"`

	// Attributed is every order with its match, in input order.
	Attributed []AttributedOrder `json:"-"`
}

// AffiliateSummary is the headline block of the affiliate order report.
type AffiliateSummary struct {
	TotalOrders         int     `json:"totalOrders"`
	AffiliateOrders     int     `json:"affiliateOrders"`
	DirectOrders        int     `json:"directOrders"`
	AffiliatePercentage float64 `json:"affiliatePercentage"`
	TotalRevenue        Money   `json:"totalRevenue"`
	AffiliateRevenue    Money   `json:"affiliateRevenue"`
	DirectRevenue       Money   `json:"directRevenue"`
}

// AffiliateReport splits orders into affiliate and direct.
type AffiliateReport struct {
	Summary            AffiliateSummary   `json:"summary"`
	ConversionMetrics  ConversionMetrics  `json:"conversionMetrics"`
	AverageOrderValues AverageOrderValues `json:"averageOrderValues"`
	DetectionMethods   DetectionMethods   `json:"detectionMethods"`
	Trends             Trends             `json:"trends"`
	AffiliateOrders    []OrderView        `json:"affiliateOrders"`
	DirectOrders       []OrderView        `json:"directOrders"`

	Attributed []AttributedOrder `json:"-"`
}

// Engine runs the attribution and funnel pipeline. It holds configuration
// only; concurrent Build calls share nothing.
type Engine struct {
	matcher *Matcher
	pages   PageSizes
}

// NewEngine returns an engine. A nil matcher uses NewMatcher defaults.
func NewEngine(matcher *Matcher, pages PageSizes) *Engine {
	if matcher == nil {
		matcher = NewMatcher()
	}
	return &Engine{matcher: matcher, pages: pages}
}

// Build computes the full dashboard. It fails only when a journey event
// timestamp cannot be parsed.
func (e *Engine) Build(in Input) (*Dashboard, error) {
	report, err := e.Journey(in.Journeys)
	if err != nil {
		return nil, err
	}

	attributed := e.matcher.AttributeOrders(in.Orders, in.Referrals)
	rev := AggregateRevenue(RevenueInput{
		Orders:           attributed,
		Checkouts:        in.Checkouts,
		Referrals:        in.Referrals,
		Events:           in.Journeys,
		ConversionStatus: e.matcher.ConversionStatus(),
		Now:              in.Now,
	})

	affiliate, _ := splitOrders(attributed)

	d := &Dashboard{
		Summary: Summary{
			TotalBusinesses:     len(in.Shops),
			BusinessDomain:      businessLabel(in.Filters.BusinessDomain),
			TotalCheckouts:      rev.Checkouts.TotalCheckouts,
			CompletedCheckouts:  rev.Checkouts.CompletedCheckouts,
			ConversionRate:      rev.Checkouts.ConversionRate,
			TotalOrders:         rev.TotalOrders,
			AffiliateOrders:     rev.AffiliateOrders,
			DirectOrders:        rev.DirectOrders,
			AffiliatePercentage: rev.AffiliatePercentage,
			TotalRevenue:        rev.TotalRevenue,
			AffiliateRevenue:    rev.AffiliateRevenue,
			DirectRevenue:       rev.DirectRevenue,
			Currency:            currencyOf(in),
		},
		Businesses:         nonNil(in.Shops),
		RecentCheckouts:    checkoutViews(truncate(in.Checkouts, e.pages.RecentCheckouts)),
		RecentOrders:       orderViews(truncate(attributed, e.pages.RecentOrders)),
		ReferralStatistics: rev.ReferralStatistics,
		Trends:             rev.Trends,
		OrderStatuses:      rev.OrderStatuses,
		RecentReferrals:    referralViews(truncate(in.Referrals, e.pages.RecentReferrals)),
		AffiliateOrders:    affiliate,
		Journey:            report,
		ReferralSources:    truncate(rev.ReferralSources, e.pages.TopLists),
		ConversionMetrics:  rev.ConversionMetrics,
		AverageOrderValues: rev.AverageOrderValues,
		DetectionMethods:   rev.DetectionMethods,
		Attributed:         attributed,
	}
	return d, nil
}

// Journey computes the funnel report for a batch of journey events, with
// ranked lists cut to page size.
func (e *Engine) Journey(events []models.JourneyEvent) (FunnelReport, error) {
	sessions, err := AggregateSessions(events)
	if err != nil {
		return FunnelReport{}, err
	}
	r := CalculateFunnel(events, sessions)
	r.EntryPages = truncate(r.EntryPages, e.pages.TopPages)
	r.ExitPages = truncate(r.ExitPages, e.pages.TopPages)
	r.TrafficSources = truncate(r.TrafficSources, e.pages.TopLists)
	r.Campaigns = truncate(r.Campaigns, e.pages.TopLists)
	r.DiscountUsage = truncate(r.DiscountUsage, e.pages.TopLists)
	r.TopProducts = truncate(r.TopProducts, e.pages.TopLists)
	r.RecentJourneys = truncate(r.RecentJourneys, e.pages.RecentJourneys)
	return r, nil
}

// Affiliate computes the affiliate order report. It reads orders,
// checkouts and referrals only.
func (e *Engine) Affiliate(in Input) *AffiliateReport {
	attributed := e.matcher.AttributeOrders(in.Orders, in.Referrals)
	rev := AggregateRevenue(RevenueInput{
		Orders:           attributed,
		Checkouts:        in.Checkouts,
		Referrals:        in.Referrals,
		ConversionStatus: e.matcher.ConversionStatus(),
		Now:              in.Now,
	})
	affiliate, direct := splitOrders(attributed)

	return &AffiliateReport{
		Summary: AffiliateSummary{
			TotalOrders:         rev.TotalOrders,
			AffiliateOrders:     rev.AffiliateOrders,
			DirectOrders:        rev.DirectOrders,
			AffiliatePercentage: rev.AffiliatePercentage,
			TotalRevenue:        rev.TotalRevenue,
			AffiliateRevenue:    rev.AffiliateRevenue,
			DirectRevenue:       rev.DirectRevenue,
		},
		ConversionMetrics:  rev.ConversionMetrics,
		AverageOrderValues: rev.AverageOrderValues,
		DetectionMethods:   rev.DetectionMethods,
		Trends:             rev.Trends,
		AffiliateOrders:    affiliate,
		DirectOrders:       direct,
		Attributed:         attributed,
	}
}

func splitOrders(orders []AttributedOrder) (affiliate, direct []OrderView) {
	affiliate = []OrderView{}
	direct = []OrderView{}
	for _, o := range orders {
		v := OrderView{Order: o.Order, Attribution: o.Attribution}
		if o.Attribution.IsAffiliateOrder {
			affiliate = append(affiliate, v)
		} else {
			direct = append(direct, v)
		}
	}
	return affiliate, direct
}

func orderViews(orders []AttributedOrder) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, OrderView{Order: o.Order, Attribution: o.Attribution})
	}
	return out
}

func checkoutViews(checkouts []models.Checkout) []CheckoutView {
	out := make([]CheckoutView, 0, len(checkouts))
	for _, c := range checkouts {
		out = append(out, CheckoutView{
			Checkout: c,
			IsAffiliateReferral: strings.Contains(strings.ToLower(c.SourceURL), AffiliateUTMSource) ||
				strings.Contains(strings.ToLower(c.SourceName), AffiliateUTMSource),
		})
	}
	return out
}

func referralViews(referrals []models.Referral) []ReferralView {
	out := make([]ReferralView, 0, len(referrals))
	for _, r := range referrals {
		out = append(out, ReferralView{Referral: r, IsIpick: isIpickSource(r.UTMSource)})
	}
	return out
}

func businessLabel(domain string) string {
	if domain == "" {
		return allBusinesses
	}
	return domain
}

func currencyOf(in Input) string {
	if len(in.Orders) > 0 && in.Orders[0].Currency != "" {
		return in.Orders[0].Currency
	}
	for _, s := range in.Shops {
		if s.Currency != "" {
			return s.Currency
		}
	}
	return defaultCurrency
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
