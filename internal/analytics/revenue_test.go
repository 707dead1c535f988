package analytics

import (
	"fmt"
	"testing"
	"time"

	"github.com/ipick/shop-analytics/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func value(v float64) *float64 { return &v }

func TestAggregateRevenue_Scenario(t *testing.T) {
	o := order("o1")
	o.SourceURL = affiliateURL
	refs := []models.Referral{referral("r1", orderTime.Add(-10*time.Hour), models.ConversionConverted)}

	m := NewMatcher()
	attributed := m.AttributeOrders([]models.Order{o}, refs)
	require.Len(t, attributed, 1)
	assert.True(t, attributed[0].Attribution.IsAffiliateOrder)
	assert.Equal(t, MethodUTMParams, attributed[0].Attribution.MatchMethod)

	s := AggregateRevenue(RevenueInput{Orders: attributed, Referrals: refs, Now: now})

	assert.Equal(t, 49.99, s.AffiliateRevenue.Float())
	assert.Equal(t, 0.0, s.DirectRevenue.Float())
	assert.Equal(t, 49.99, s.TotalRevenue.Float())
	assert.Equal(t, 100.0, s.AffiliatePercentage)
	assert.Equal(t, 1, s.DetectionMethods.UTMParams)
}

func TestAggregateRevenue_PartitionIsExhaustive(t *testing.T) {
	prices := []string{"10.10", "0.333", "abc", "", "1e2", "-5", "19.999", "7"}
	var orders []models.Order
	for i, p := range prices {
		o := order(fmt.Sprintf("o%d", i))
		o.TotalPrice = p
		if i%2 == 0 {
			o.SourceName = "ipick"
		}
		orders = append(orders, o)
	}

	s := AggregateRevenue(RevenueInput{
		Orders: NewMatcher().AttributeOrders(orders, nil),
		Now:    now,
	})

	sum := s.AffiliateRevenue.Add(s.DirectRevenue.Decimal)
	assert.True(t, sum.Equal(s.TotalRevenue.Decimal), "%s + %s != %s", s.AffiliateRevenue, s.DirectRevenue, s.TotalRevenue)
	assert.Equal(t, s.TotalOrders, s.AffiliateOrders+s.DirectOrders)
	assert.Equal(t, "132.432", s.TotalRevenue.String())
}

func TestAggregateRevenue_RoundsOnlyOnOutput(t *testing.T) {
	var orders []models.Order
	for i := 0; i < 3; i++ {
		o := order(fmt.Sprintf("o%d", i))
		o.TotalPrice = "0.004"
		orders = append(orders, o)
	}

	s := AggregateRevenue(RevenueInput{Orders: NewMatcher().AttributeOrders(orders, nil), Now: now})

	assert.Equal(t, "0.012", s.TotalRevenue.String())
	b, err := s.TotalRevenue.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "0.01", string(b))
}

func TestAggregateRevenue_Trends(t *testing.T) {
	mk := func(id string, age time.Duration, price string, affiliate bool) models.Order {
		o := models.Order{ID: id, CreatedAt: ts(now.Add(-age)), TotalPrice: price}
		if affiliate {
			o.SourceName = "ipick"
		}
		return o
	}
	orders := []models.Order{
		mk("today", time.Hour, "10", true),
		mk("edge7", 7*24*time.Hour, "20", false),
		mk("week2", 10*24*time.Hour, "30", true),
		mk("old", 40*24*time.Hour, "40", false),
		{ID: "broken", CreatedAt: "??", TotalPrice: "50"},
	}
	checkouts := []models.Checkout{
		{ID: "c1", CreatedAt: ts(now.Add(-2 * 24 * time.Hour))},
		{ID: "c2", CreatedAt: ts(now.Add(-20 * 24 * time.Hour)), CompletedAt: ts(now)},
		{ID: "c3", CreatedAt: ""},
	}

	s := AggregateRevenue(RevenueInput{
		Orders:    NewMatcher().AttributeOrders(orders, nil),
		Checkouts: checkouts,
		Now:       now,
	})

	assert.Equal(t, 2, s.Trends.Last7Days.Orders)
	assert.Equal(t, 1, s.Trends.Last7Days.Checkouts)
	assert.Equal(t, 30.0, s.Trends.Last7Days.Revenue.Float())
	assert.Equal(t, 1, s.Trends.Last7Days.AffiliateOrders)
	assert.Equal(t, 10.0, s.Trends.Last7Days.AffiliateRevenue.Float())

	assert.Equal(t, 3, s.Trends.Last30Days.Orders)
	assert.Equal(t, 2, s.Trends.Last30Days.Checkouts)
	assert.Equal(t, 60.0, s.Trends.Last30Days.Revenue.Float())
	assert.Equal(t, 1, s.Trends.Last30Days.DirectOrders)

	// unparsable creation time only drops out of the buckets
	assert.Equal(t, 5, s.TotalOrders)
	assert.Equal(t, 150.0, s.TotalRevenue.Float())

	assert.Equal(t, CheckoutMetrics{TotalCheckouts: 3, CompletedCheckouts: 1, ConversionRate: 33.33}, s.Checkouts)
}

func TestAggregateRevenue_ReferralSources(t *testing.T) {
	refs := []models.Referral{
		{ID: "r1", UTMSource: "ipick", ConversionStatus: models.ConversionConverted, ConversionValue: value(30)},
		{ID: "r2", UTMSource: "ipick", ConversionStatus: models.ConversionConverted, ConversionValue: value(12.5)},
		{ID: "r3", ConversionStatus: models.ConversionConverted},
		{ID: "r4", UTMSource: "ipick", ConversionStatus: models.ConversionPending, ConversionValue: value(99)},
		{ID: "r5", UTMSource: "newsletter", ConversionStatus: models.ConversionAbandoned},
	}
	link := func(e models.JourneyEvent, ref string) models.JourneyEvent {
		e.BusinessReferral = ref
		return e
	}
	events := []models.JourneyEvent{
		link(ev("s1", models.EventVisit, "2024-05-01T10:00:00Z"), "r1"),
		link(ev("s1", models.EventPurchase, "2024-05-01T10:05:00Z"), "r1"),
		link(ev("s2", models.EventVisit, "2024-05-01T11:00:00Z"), "r2"),
		link(ev("s3", models.EventVisit, "2024-05-01T11:00:00Z"), "r3"),
		link(ev("s4", models.EventPurchase, "2024-05-01T11:00:00Z"), "r4"),
		ev("s5", models.EventPurchase, "2024-05-01T11:00:00Z"),
	}

	s := AggregateRevenue(RevenueInput{Referrals: refs, Events: events, Now: now})

	require.Len(t, s.ReferralSources, 2)
	ipick := s.ReferralSources[0]
	assert.Equal(t, "ipick", ipick.Source)
	assert.Equal(t, 2, ipick.Referrals)
	assert.Equal(t, 2, ipick.Sessions)
	assert.Equal(t, 1, ipick.Purchases)
	assert.Equal(t, 42.5, ipick.Revenue.Float())
	assert.Equal(t, 50.0, ipick.ConversionRate)

	unknown := s.ReferralSources[1]
	assert.Equal(t, "unknown", unknown.Source)
	assert.Equal(t, 1, unknown.Sessions)
	assert.Equal(t, 0, unknown.Purchases)
	assert.Zero(t, unknown.ConversionRate)

	assert.Equal(t, 5, s.ReferralStatistics.TotalReferrals)
	assert.Equal(t, 3, s.ReferralStatistics.IpickReferrals)
	assert.Equal(t, 3, s.ReferralStatistics.TotalConversions)
	assert.Equal(t, map[string]int{"ipick": 3, "unknown": 1, "newsletter": 1}, s.ReferralStatistics.TopSources)
	assert.Equal(t, 66.67, s.ReferralStatistics.IpickConversionRate)
	assert.Equal(t, 141.5, s.ReferralStatistics.ReferralRevenue.Float())

	assert.Equal(t, ConversionMetrics{
		TotalReferrals:     5,
		ConvertedReferrals: 3,
		PendingReferrals:   1,
		AbandonedReferrals: 1,
		ConversionRate:     60,
		AbandonmentRate:    20,
	}, s.ConversionMetrics)
}

func TestAggregateRevenue_EmptyInput(t *testing.T) {
	s := AggregateRevenue(RevenueInput{Now: now})

	assert.Zero(t, s.TotalOrders)
	assert.Zero(t, s.AffiliatePercentage)
	assert.True(t, s.TotalRevenue.IsZero())
	assert.True(t, s.AverageOrderValues.Overall.IsZero())
	assert.Empty(t, s.ReferralSources)
	assert.Empty(t, s.OrderStatuses)
	assert.Zero(t, s.ConversionMetrics.ConversionRate)
	assert.Zero(t, s.Checkouts.ConversionRate)
}

func TestAggregateRevenue_OrderStatusesAndAverages(t *testing.T) {
	a := order("a")
	a.FinancialStatus, a.TotalPrice, a.SourceName = "paid", "30", "ipick"
	b := order("b")
	b.FinancialStatus, b.TotalPrice = "paid", "10"
	c := order("c")
	c.TotalPrice = "20"

	s := AggregateRevenue(RevenueInput{Orders: NewMatcher().AttributeOrders([]models.Order{a, b, c}, nil), Now: now})

	assert.Equal(t, map[string]int{"paid": 2, "unknown": 1}, s.OrderStatuses)
	assert.Equal(t, 30.0, s.AverageOrderValues.Affiliate.Float())
	assert.Equal(t, 15.0, s.AverageOrderValues.Direct.Float())
	assert.Equal(t, 20.0, s.AverageOrderValues.Overall.Float())
	assert.Equal(t, 33.33, s.AffiliatePercentage)
	assert.Equal(t, DetectionMethods{SourceName: 1, None: 2}, s.DetectionMethods)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"49.99", "49.99"},
		{" 20.00 ", "20"},
		{"49.99 EUR", "49.99"},
		{"12abc", "12"},
		{"-0.5 off", "-0.5"},
		{"1e3 units", "1000"},
		{"EUR 49.99", "0"},
		{"", "0"},
		{"n/a", "0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseAmount(tt.raw).String(), "raw %q", tt.raw)
	}
}
