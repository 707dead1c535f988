package analytics

import (
	"strings"
	"time"

	"github.com/ipick/shop-analytics/internal/models"
	"github.com/shopspring/decimal"
)

const unknownKey = "unknown"

// RevenueInput is everything the revenue rollup reads.
type RevenueInput struct {
	Orders    []AttributedOrder
	Checkouts []models.Checkout
	Referrals []models.Referral
	Events    []models.JourneyEvent
	// ConversionStatus marks credited referrals. Defaults to "converted".
	ConversionStatus string
	Now              time.Time
}

// AverageOrderValues per attribution class.
type AverageOrderValues struct {
	Affiliate Money `json:"affiliate"`
	Direct    Money `json:"direct"`
	Overall   Money `json:"overall"`
}

// DetectionMethods counts orders per match method.
type DetectionMethods struct {
	UTMParams  int `json:"utmParameters"`
	TimeWindow int `json:"timingMatch"`
	SourceName int `json:"sourceName"`
	None       int `json:"none"`
}

func (d *DetectionMethods) add(m MatchMethod) {
	switch m {
	case MethodUTMParams:
		d.UTMParams++
	case MethodTimeWindow:
		d.TimeWindow++
	case MethodSourceName:
		d.SourceName++
	default:
		d.None++
	}
}

// TrendBucket aggregates records created since a cutoff.
type TrendBucket struct {
	Checkouts        int   `json:"checkouts"`
	Orders           int   `json:"orders"`
	Revenue          Money `json:"revenue"`
	AffiliateOrders  int   `json:"affiliateOrders"`
	DirectOrders     int   `json:"directOrders"`
	AffiliateRevenue Money `json:"affiliateRevenue"`
}

// Trends holds the overlapping 7 and 30 day buckets.
type Trends struct {
	Last7Days  TrendBucket `json:"last7Days"`
	Last30Days TrendBucket `json:"last30Days"`
}

// ReferralSource is the rollup of converted referrals sharing a utm source.
type ReferralSource struct {
	Source         string  `json:"source"`
	Referrals      int     `json:"referrals"`
	Sessions       int     `json:"sessions"`
	Purchases      int     `json:"purchases"`
	Revenue        Money   `json:"revenue"`
	ConversionRate float64 `json:"conversionRate"`
}

// ReferralStatistics summarises the referral log.
type ReferralStatistics struct {
	TotalReferrals      int            `json:"totalReferrals"`
	IpickReferrals      int            `json:"ipickReferrals"`
	IpickConversionRate float64        `json:"ipickConversionRate"`
	TotalConversions    int            `json:"totalConversions"`
	ReferralRevenue     Money          `json:"referralRevenue"`
	TopSources          map[string]int `json:"topSources"`
}

// ConversionMetrics counts referrals per conversion status.
type ConversionMetrics struct {
	TotalReferrals     int     `json:"totalReferrals"`
	ConvertedReferrals int     `json:"convertedReferrals"`
	PendingReferrals   int     `json:"pendingReferrals"`
	AbandonedReferrals int     `json:"abandonedReferrals"`
	ConversionRate     float64 `json:"conversionRate"`
	AbandonmentRate    float64 `json:"abandonmentRate"`
}

// CheckoutMetrics counts started and completed checkouts.
type CheckoutMetrics struct {
	TotalCheckouts     int     `json:"totalCheckouts"`
	CompletedCheckouts int     `json:"completedCheckouts"`
	ConversionRate     float64 `json:"conversionRate"`
}

// RevenueSummary is the output of AggregateRevenue. Amounts keep full
// precision until they are encoded.
type RevenueSummary struct {
	TotalOrders         int     `json:"totalOrders"`
	AffiliateOrders     int     `json:"affiliateOrders"`
	DirectOrders        int     `json:"directOrders"`
	AffiliatePercentage float64 `json:"affiliatePercentage"`
	TotalRevenue        Money   `json:"totalRevenue"`
	AffiliateRevenue    Money   `json:"affiliateRevenue"`
	DirectRevenue       Money   `json:"directRevenue"`

	AverageOrderValues AverageOrderValues `json:"averageOrderValues"`
	DetectionMethods   DetectionMethods   `json:"detectionMethods"`
	Trends             Trends             `json:"trends"`
	ReferralSources    []ReferralSource   `json:"referralSources"`
	ReferralStatistics ReferralStatistics `json:"referralStatistics"`
	ConversionMetrics  ConversionMetrics  `json:"conversionMetrics"`
	Checkouts          CheckoutMetrics    `json:"checkouts"`
	OrderStatuses      map[string]int     `json:"orderStatuses"`
}

// AggregateRevenue partitions revenue by attribution class and time bucket
// and rolls up the referral log.
func AggregateRevenue(in RevenueInput) RevenueSummary {
	status := in.ConversionStatus
	if status == "" {
		status = models.ConversionConverted
	}

	var s RevenueSummary
	total, affiliate, direct := decimal.Zero, decimal.Zero, decimal.Zero
	s.OrderStatuses = make(map[string]int)

	for _, o := range in.Orders {
		total = total.Add(o.Amount)
		if o.Attribution.IsAffiliateOrder {
			s.AffiliateOrders++
			affiliate = affiliate.Add(o.Amount)
		} else {
			s.DirectOrders++
			direct = direct.Add(o.Amount)
		}
		s.DetectionMethods.add(o.Attribution.MatchMethod)

		st := o.FinancialStatus
		if st == "" {
			st = unknownKey
		}
		s.OrderStatuses[st]++
	}

	s.TotalOrders = len(in.Orders)
	s.AffiliatePercentage = percent(s.AffiliateOrders, s.TotalOrders)
	s.TotalRevenue = NewMoney(total)
	s.AffiliateRevenue = NewMoney(affiliate)
	s.DirectRevenue = NewMoney(direct)
	s.AverageOrderValues = AverageOrderValues{
		Affiliate: NewMoney(average(affiliate, s.AffiliateOrders)),
		Direct:    NewMoney(average(direct, s.DirectOrders)),
		Overall:   NewMoney(average(total, s.TotalOrders)),
	}

	s.Checkouts = checkoutMetrics(in.Checkouts)
	s.Trends = Trends{
		Last7Days:  trendSince(in, in.Now.Add(-7*24*time.Hour)),
		Last30Days: trendSince(in, in.Now.Add(-30*24*time.Hour)),
	}
	s.ReferralSources = referralSources(in.Referrals, in.Events, status)
	s.ReferralStatistics = referralStatistics(in.Referrals, status)
	s.ConversionMetrics = conversionMetrics(in.Referrals, status)
	return s
}

func checkoutMetrics(checkouts []models.Checkout) CheckoutMetrics {
	m := CheckoutMetrics{TotalCheckouts: len(checkouts)}
	for _, c := range checkouts {
		if c.IsCompleted() {
			m.CompletedCheckouts++
		}
	}
	m.ConversionRate = percent(m.CompletedCheckouts, m.TotalCheckouts)
	return m
}

// trendSince buckets records created at or after cutoff. Records without a
// parsable creation time are left out.
func trendSince(in RevenueInput, cutoff time.Time) TrendBucket {
	var b TrendBucket
	revenue, affiliate := decimal.Zero, decimal.Zero

	for _, o := range in.Orders {
		if !o.HasCreated || o.Created.Before(cutoff) {
			continue
		}
		b.Orders++
		revenue = revenue.Add(o.Amount)
		if o.Attribution.IsAffiliateOrder {
			b.AffiliateOrders++
			affiliate = affiliate.Add(o.Amount)
		} else {
			b.DirectOrders++
		}
	}
	for _, c := range in.Checkouts {
		at, err := ParseTimestamp(c.CreatedAt)
		if err != nil || at.Before(cutoff) {
			continue
		}
		b.Checkouts++
	}

	b.Revenue = NewMoney(revenue)
	b.AffiliateRevenue = NewMoney(affiliate)
	return b
}

func conversionValue(r models.Referral) decimal.Decimal {
	if r.ConversionValue == nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(*r.ConversionValue)
}

func sourceKey(r models.Referral) string {
	if r.UTMSource == "" {
		return unknownKey
	}
	return r.UTMSource
}

// referralSources groups credited referrals by utm source and links them to
// journey events through the event's referral reference.
func referralSources(referrals []models.Referral, events []models.JourneyEvent, status string) []ReferralSource {
	type acc struct {
		referrals int
		revenue   decimal.Decimal
		sessions  map[string]struct{}
		purchases int
	}

	bySource := make(map[string]*acc)
	sourceOf := make(map[string]string)
	var order []string

	for _, r := range referrals {
		if r.ConversionStatus != status {
			continue
		}
		key := sourceKey(r)
		a, ok := bySource[key]
		if !ok {
			a = &acc{revenue: decimal.Zero, sessions: make(map[string]struct{})}
			bySource[key] = a
			order = append(order, key)
		}
		a.referrals++
		a.revenue = a.revenue.Add(conversionValue(r))
		sourceOf[r.ID] = key
	}

	for _, ev := range events {
		key, ok := sourceOf[ev.BusinessReferral]
		if !ok || ev.BusinessReferral == "" {
			continue
		}
		a := bySource[key]
		a.sessions[ev.SessionID] = struct{}{}
		if ev.EventType == models.EventPurchase {
			a.purchases++
		}
	}

	out := make([]ReferralSource, 0, len(order))
	for _, key := range order {
		a := bySource[key]
		out = append(out, ReferralSource{
			Source:         key,
			Referrals:      a.referrals,
			Sessions:       len(a.sessions),
			Purchases:      a.purchases,
			Revenue:        NewMoney(a.revenue),
			ConversionRate: percent(a.purchases, len(a.sessions)),
		})
	}
	sortStableBy(out, func(a, b ReferralSource) bool {
		if !a.Revenue.Equal(b.Revenue.Decimal) {
			return a.Revenue.GreaterThan(b.Revenue.Decimal)
		}
		return a.Source < b.Source
	})
	return out
}

func isIpickSource(utmSource string) bool {
	return strings.Contains(strings.ToLower(utmSource), AffiliateUTMSource)
}

func referralStatistics(referrals []models.Referral, status string) ReferralStatistics {
	st := ReferralStatistics{
		TotalReferrals: len(referrals),
		TopSources:     make(map[string]int),
	}
	revenue := decimal.Zero
	ipickConversions := 0

	for _, r := range referrals {
		converted := r.ConversionStatus == status
		if isIpickSource(r.UTMSource) {
			st.IpickReferrals++
			if converted {
				ipickConversions++
			}
		}
		if converted {
			st.TotalConversions++
		}
		revenue = revenue.Add(conversionValue(r))
		st.TopSources[sourceKey(r)]++
	}

	st.IpickConversionRate = percent(ipickConversions, st.IpickReferrals)
	st.ReferralRevenue = NewMoney(revenue)
	return st
}

func conversionMetrics(referrals []models.Referral, status string) ConversionMetrics {
	m := ConversionMetrics{TotalReferrals: len(referrals)}
	for _, r := range referrals {
		switch r.ConversionStatus {
		case status:
			m.ConvertedReferrals++
		case models.ConversionPending:
			m.PendingReferrals++
		case models.ConversionAbandoned:
			m.AbandonedReferrals++
		}
	}
	m.ConversionRate = percent(m.ConvertedReferrals, m.TotalReferrals)
	m.AbandonmentRate = percent(m.AbandonedReferrals, m.TotalReferrals)
	return m
}
