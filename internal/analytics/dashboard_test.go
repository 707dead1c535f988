package analytics

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ipick/shop-analytics/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInput() Input {
	in := Input{
		Filters: Filters{BusinessDomain: "shop.example", Limit: 100},
		Now:     now,
		Shops: []models.Shop{
			{ID: "shop-1", Domain: "shop.example", Name: "Example", Currency: "USD"},
		},
	}
	for i := 0; i < 25; i++ {
		created := now.Add(-time.Duration(i) * 24 * time.Hour)
		o := models.Order{
			ID:              fmt.Sprintf("o%02d", i),
			CreatedAt:       ts(created),
			TotalPrice:      fmt.Sprintf("%d.50", 10+i),
			Currency:        "EUR",
			FinancialStatus: "paid",
		}
		if i%5 == 0 {
			o.SourceURL = affiliateURL
		}
		in.Orders = append(in.Orders, o)
		in.Checkouts = append(in.Checkouts, models.Checkout{
			ID:         fmt.Sprintf("c%02d", i),
			CreatedAt:  ts(created),
			TotalPrice: o.TotalPrice,
			SourceURL:  o.SourceURL,
		})
	}
	for i := 0; i < 12; i++ {
		in.Referrals = append(in.Referrals, models.Referral{
			ID:               fmt.Sprintf("r%02d", i),
			ClickedAt:        ts(now.Add(-time.Duration(i*24+2) * time.Hour)),
			UTMSource:        "ipick",
			ConversionStatus: models.ConversionConverted,
			ConversionValue:  value(5),
		})
	}
	for i := 0; i < 15; i++ {
		s := fmt.Sprintf("s%02d", i)
		e := pageView(s, fmt.Sprintf("/page/%d", i%12), ts(now.Add(-time.Duration(i)*time.Hour)))
		e.BusinessReferral = fmt.Sprintf("r%02d", i%12)
		in.Journeys = append(in.Journeys, e)
		if i%2 == 0 {
			in.Journeys = append(in.Journeys, ev(s, models.EventPurchase, ts(now.Add(-time.Duration(i)*time.Hour+time.Minute))))
		}
	}
	return in
}

func TestEngine_BuildTruncatesLists(t *testing.T) {
	d, err := NewEngine(nil, DefaultPageSizes()).Build(sampleInput())
	require.NoError(t, err)

	assert.Len(t, d.RecentOrders, 20)
	assert.Len(t, d.RecentCheckouts, 20)
	assert.Len(t, d.RecentReferrals, 10)
	assert.Len(t, d.Journey.EntryPages, 10)
	assert.Equal(t, "o00", d.RecentOrders[0].ID)

	assert.Equal(t, 25, d.Summary.TotalOrders)
	assert.Equal(t, 25, d.Summary.TotalCheckouts)
	assert.Equal(t, "shop.example", d.Summary.BusinessDomain)
	assert.Equal(t, "EUR", d.Summary.Currency)
	assert.Equal(t, 1, d.Summary.TotalBusinesses)
	assert.Len(t, d.AffiliateOrders, d.Summary.AffiliateOrders)
}

func TestEngine_BuildAnnotatesOrders(t *testing.T) {
	d, err := NewEngine(nil, DefaultPageSizes()).Build(sampleInput())
	require.NoError(t, err)

	utm := d.RecentOrders[0]
	assert.True(t, utm.IsAffiliateOrder)
	assert.Equal(t, MethodUTMParams, utm.MatchMethod)
	assert.Equal(t, "ipick", utm.AffiliateSource)

	// o01 was placed a day ago and r01 was clicked 26 hours ago
	timed := d.RecentOrders[1]
	assert.Equal(t, MethodTimeWindow, timed.MatchMethod)
	require.NotNil(t, timed.MatchedReferral)
	assert.Equal(t, "r01", timed.MatchedReferral.ID)

	assert.True(t, d.RecentCheckouts[0].IsAffiliateReferral)
	assert.False(t, d.RecentCheckouts[1].IsAffiliateReferral)
	assert.True(t, d.RecentReferrals[0].IsIpick)
}

func TestEngine_BuildIsDeterministic(t *testing.T) {
	e := NewEngine(nil, DefaultPageSizes())

	encode := func() []byte {
		d, err := e.Build(sampleInput())
		require.NoError(t, err)
		b, err := json.Marshal(Succeed(d, sampleInput().Filters, now))
		require.NoError(t, err)
		return b
	}

	first := encode()
	for i := 0; i < 5; i++ {
		assert.Equal(t, string(first), string(encode()))
	}
}

func TestEngine_BuildRejectsBadJourneyTimestamp(t *testing.T) {
	in := sampleInput()
	in.Journeys[3].Timestamp = "31/12/2024"

	d, err := NewEngine(nil, DefaultPageSizes()).Build(in)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrInvalidTimestamp)
}

func TestEngine_BuildEmptyInput(t *testing.T) {
	d, err := NewEngine(nil, DefaultPageSizes()).Build(Input{Now: now})
	require.NoError(t, err)

	assert.Equal(t, "All Businesses", d.Summary.BusinessDomain)
	assert.Equal(t, "EUR", d.Summary.Currency)
	assert.Zero(t, d.Summary.ConversionRate)

	b, err := json.Marshal(d)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	for _, key := range []string{"businesses", "recentCheckouts", "recentOrders", "recentReferrals", "affiliateOrders", "referralSources"} {
		assert.Equal(t, []any{}, raw[key], key)
	}
}

func TestEngine_MoneyIsEncodedWithCents(t *testing.T) {
	in := Input{
		Now:    now,
		Orders: []models.Order{{ID: "o1", CreatedAt: ts(now), TotalPrice: "49.99", SourceURL: affiliateURL}},
	}
	d, err := NewEngine(nil, DefaultPageSizes()).Build(in)
	require.NoError(t, err)

	b, err := json.Marshal(d.Summary)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"affiliateRevenue":49.99`)
	assert.Contains(t, string(b), `"directRevenue":0.00`)
}

func TestEngine_Affiliate(t *testing.T) {
	in := Input{
		Now: now,
		Orders: []models.Order{
			{ID: "utm", CreatedAt: ts(now), TotalPrice: "10", SourceURL: affiliateURL},
			{ID: "feed", CreatedAt: ts(now), TotalPrice: "20", SourceName: "Pavlo Comparison Feed"},
			{ID: "direct", CreatedAt: ts(now), TotalPrice: "30"},
		},
	}

	r := NewEngine(nil, DefaultPageSizes()).Affiliate(in)

	assert.Equal(t, 2, r.Summary.AffiliateOrders)
	assert.Equal(t, 1, r.Summary.DirectOrders)
	assert.Equal(t, 30.0, r.Summary.AffiliateRevenue.Float())
	assert.Equal(t, 30.0, r.Summary.DirectRevenue.Float())
	assert.Equal(t, DetectionMethods{UTMParams: 1, SourceName: 1, None: 1}, r.DetectionMethods)
	require.Len(t, r.DirectOrders, 1)
	assert.Equal(t, "direct", r.DirectOrders[0].ID)
}

func TestEngine_ExposesAttributedOrders(t *testing.T) {
	in := sampleInput()
	e := NewEngine(nil, DefaultPageSizes())

	d, err := e.Build(in)
	require.NoError(t, err)
	require.Len(t, d.Attributed, len(in.Orders))

	var affiliate int
	for i, o := range d.Attributed {
		assert.Equal(t, in.Orders[i].ID, o.ID)
		if o.Attribution.IsAffiliateOrder {
			affiliate++
		}
	}
	assert.Equal(t, d.Summary.AffiliateOrders, affiliate)

	r := e.Affiliate(in)
	assert.Equal(t, d.Attributed, r.Attributed)

	b, err := json.Marshal(d)
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"attributed"`)
	assert.NotContains(t, string(b), `"Attributed"`)
}

func TestEngine_CustomPageSizes(t *testing.T) {
	pages := DefaultPageSizes()
	pages.RecentOrders = 3
	pages.TopPages = 2

	d, err := NewEngine(nil, pages).Build(sampleInput())
	require.NoError(t, err)

	assert.Len(t, d.RecentOrders, 3)
	assert.Len(t, d.Journey.EntryPages, 2)
}

func TestEnvelope(t *testing.T) {
	b, err := json.Marshal(Fail("failed to load dashboard"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"failed to load dashboard"}`, string(b))

	b, err = json.Marshal(Succeed(map[string]int{"x": 1}, Filters{Limit: 5}, now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":{"x":1},"metadata":{"generatedAt":"2024-06-01T00:00:00Z","filters":{"limit":5}}}`, string(b))
}
