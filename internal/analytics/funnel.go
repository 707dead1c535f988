package analytics

import (
	"math"
	"time"

	"github.com/ipick/shop-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// Event type emitted by product detail pages. Not a funnel stage.
const eventProductView = "product_view"

// Funnel holds batch-wide occurrence counts per stage. A session may count
// toward several stages, and counts are not a per-session traversal.
type Funnel struct {
	Visits           int `json:"visits"`
	PageViews        int `json:"pageViews"`
	AddToCart        int `json:"addToCart"`
	CheckoutStart    int `json:"checkoutStart"`
	CheckoutComplete int `json:"checkoutComplete"`
	Purchases        int `json:"purchases"`
}

// StageRates are step-to-step conversion percentages.
type StageRates struct {
	VisitToPageView    float64 `json:"visitToPageView"`
	PageViewToAddCart  float64 `json:"pageViewToAddCart"`
	AddCartToCheckout  float64 `json:"addCartToCheckout"`
	CheckoutToPurchase float64 `json:"checkoutToPurchase"`
}

// ProductStat summarises views and cart adds for one product.
type ProductStat struct {
	ProductID      string  `json:"productId"`
	Name           string  `json:"name"`
	Views          int     `json:"views"`
	AddToCarts     int     `json:"addToCarts"`
	ConversionRate float64 `json:"conversionRate"`
}

// JourneySummary is a compact view of one session.
type JourneySummary struct {
	SessionID   string `json:"sessionId"`
	Events      int    `json:"events"`
	HasPurchase bool   `json:"hasPurchase"`
	TotalValue  Money  `json:"totalValue"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Country     string `json:"country,omitempty"`
	UTMSource   string `json:"utmSource,omitempty"`
}

// FunnelReport is the output of CalculateFunnel. Ranked lists are complete;
// truncation to page sizes happens in the dashboard.
type FunnelReport struct {
	Funnel                    Funnel     `json:"funnel"`
	StageRates                StageRates `json:"stageRates"`
	TotalSessions             int        `json:"totalSessions"`
	BouncedSessions           int        `json:"bouncedSessions"`
	UniqueVisitors            int        `json:"uniqueVisitors"`
	BounceRate                float64    `json:"bounceRate"`
	ConversionRate            float64    `json:"conversionRate"`
	AvgSessionDurationSeconds int        `json:"avgSessionDurationSeconds"`
	AverageCartValue          Money      `json:"averageCartValue"`
	CheckoutAbandonment       int        `json:"checkoutAbandonment"`

	EntryPages     []Count `json:"entryPages"`
	ExitPages      []Count `json:"exitPages"`
	TrafficSources []Count `json:"trafficSources"`
	Campaigns      []Count `json:"campaigns"`
	DiscountUsage  []Count `json:"discountUsage"`

	TopProducts []ProductStat `json:"topProducts"`

	Devices    map[string]int `json:"devices"`
	Browsers   map[string]int `json:"browsers"`
	Countries  map[string]int `json:"countries"`
	EventTypes map[string]int `json:"eventTypes"`

	RecentJourneys []JourneySummary `json:"recentJourneys"`
}

// CalculateFunnel derives funnel, bounce and breakdown figures from the flat
// event list and the sessions built from it.
func CalculateFunnel(events []models.JourneyEvent, sessions Sessions) FunnelReport {
	r := FunnelReport{
		Devices:    make(map[string]int),
		Browsers:   make(map[string]int),
		Countries:  make(map[string]int),
		EventTypes: make(map[string]int),
	}

	visitors := make(map[string]struct{})
	sources := make(map[string]int)
	campaigns := make(map[string]int)
	discounts := make(map[string]int)
	products := make(map[string]*ProductStat)
	var productOrder []string
	cartTotal := decimal.Zero
	cartCount := 0

	product := func(ev models.JourneyEvent) *ProductStat {
		p, ok := products[ev.ProductID]
		if !ok {
			p = &ProductStat{ProductID: ev.ProductID, Name: ev.ProductName}
			products[ev.ProductID] = p
			productOrder = append(productOrder, ev.ProductID)
		}
		if p.Name == "" {
			p.Name = ev.ProductName
		}
		return p
	}

	for _, ev := range events {
		switch ev.EventType {
		case models.EventVisit:
			r.Funnel.Visits++
		case models.EventPageView:
			r.Funnel.PageViews++
		case models.EventAddToCart:
			r.Funnel.AddToCart++
			if ev.ProductID != "" {
				product(ev).AddToCarts++
			}
		case models.EventCheckoutStart:
			r.Funnel.CheckoutStart++
		case models.EventCheckoutComplete:
			r.Funnel.CheckoutComplete++
		case models.EventPurchase:
			r.Funnel.Purchases++
		case eventProductView:
			if ev.ProductID != "" {
				product(ev).Views++
			}
		}

		if ev.UserID != "" {
			visitors[ev.UserID] = struct{}{}
		}
		if ev.CartValue != nil && *ev.CartValue > 0 {
			cartTotal = cartTotal.Add(decimal.NewFromFloat(*ev.CartValue))
			cartCount++
		}

		tally(sources, ev.UTMSource)
		tally(campaigns, ev.UTMCampaign)
		tally(discounts, ev.DiscountCode)
		tally(r.Devices, ev.DeviceType)
		tally(r.Browsers, ev.BrowserName)
		tally(r.Countries, ev.Country)
		tally(r.EventTypes, ev.EventType)
	}

	r.UniqueVisitors = len(visitors)
	r.AverageCartValue = NewMoney(average(cartTotal, cartCount))
	r.CheckoutAbandonment = max(r.Funnel.CheckoutStart-r.Funnel.Purchases, 0)
	r.ConversionRate = clampPercent(percent(r.Funnel.Purchases, r.Funnel.Visits))
	r.StageRates = StageRates{
		VisitToPageView:    percent(r.Funnel.PageViews, r.Funnel.Visits),
		PageViewToAddCart:  percent(r.Funnel.AddToCart, r.Funnel.PageViews),
		AddCartToCheckout:  percent(r.Funnel.CheckoutStart, r.Funnel.AddToCart),
		CheckoutToPurchase: percent(r.Funnel.Purchases, r.Funnel.CheckoutStart),
	}
	r.TrafficSources = rank(sources)
	r.Campaigns = rank(campaigns)
	r.DiscountUsage = rank(discounts)
	r.TopProducts = rankProducts(products, productOrder)

	applySessions(&r, sessions)
	return r
}

func applySessions(r *FunnelReport, sessions Sessions) {
	entries := make(map[string]int)
	exits := make(map[string]int)
	var durationTotal float64
	multiEvent := 0

	r.TotalSessions = len(sessions)
	ordered := make([]*Session, 0, len(sessions))

	for _, id := range sessions.IDs() {
		s := sessions[id]
		if s.IsBounce() {
			r.BouncedSessions++
		}
		if d, ok := s.Duration(); ok {
			durationTotal += d.Seconds()
			multiEvent++
		}
		if page, ok := s.EntryPage(); ok {
			entries[page]++
		}
		if page, ok := s.ExitPage(); ok {
			exits[page]++
		}
		ordered = append(ordered, s)
	}

	r.BounceRate = percent(r.BouncedSessions, r.TotalSessions)
	if multiEvent > 0 {
		r.AvgSessionDurationSeconds = int(math.Round(durationTotal / float64(multiEvent)))
	}
	r.EntryPages = rank(entries)
	r.ExitPages = rank(exits)

	// Newest first; ties keep session id order.
	sortStableBy(ordered, func(a, b *Session) bool {
		return a.Start().After(b.Start())
	})
	r.RecentJourneys = make([]JourneySummary, 0, len(ordered))
	for _, s := range ordered {
		r.RecentJourneys = append(r.RecentJourneys, summarizeSession(s))
	}
}

func summarizeSession(s *Session) JourneySummary {
	first := s.Events[0]
	return JourneySummary{
		SessionID:   s.ID,
		Events:      len(s.Events),
		HasPurchase: s.HasEvent(models.EventPurchase),
		TotalValue:  NewMoney(s.CartTotal()),
		StartTime:   s.Start().UTC().Format(time.RFC3339Nano),
		EndTime:     s.End().UTC().Format(time.RFC3339Nano),
		Country:     first.Country,
		UTMSource:   first.UTMSource,
	}
}

func rankProducts(products map[string]*ProductStat, order []string) []ProductStat {
	out := make([]ProductStat, 0, len(order))
	for _, id := range order {
		p := products[id]
		p.ConversionRate = percent(p.AddToCarts, p.Views)
		out = append(out, *p)
	}
	sortStableBy(out, func(a, b ProductStat) bool {
		return a.Views > b.Views
	})
	return out
}
