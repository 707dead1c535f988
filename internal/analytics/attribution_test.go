package analytics

import (
	"testing"
	"time"

	"github.com/ipick/shop-analytics/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const affiliateURL = "https://shop.example/?utm_source=ipick&utm_medium=suggestion&utm_campaign=business_tracking"

var orderTime = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func ts(t time.Time) string { return t.Format(time.RFC3339Nano) }

func referral(id string, clicked time.Time, status string) models.Referral {
	return models.Referral{
		ID:               id,
		ClickedAt:        ts(clicked),
		UTMSource:        "ipick",
		UTMMedium:        "suggestion",
		UTMCampaign:      "business_tracking",
		ConversionStatus: status,
	}
}

func order(id string) models.Order {
	return models.Order{ID: id, CreatedAt: ts(orderTime), TotalPrice: "49.99"}
}

func TestMatcher_UTMParams(t *testing.T) {
	m := NewMatcher()

	tests := []struct {
		name      string
		sourceURL string
		want      MatchMethod
	}{
		{"exact", affiliateURL, MethodUTMParams},
		{"param order irrelevant", "https://shop.example/p?utm_campaign=business_tracking&utm_medium=suggestion&utm_source=ipick", MethodUTMParams},
		{"case sensitive", "https://shop.example/?utm_source=IPICK&utm_medium=suggestion&utm_campaign=business_tracking", MethodNone},
		{"contains is not equals", "https://shop.example/?utm_source=ipick.io&utm_medium=suggestion&utm_campaign=business_tracking", MethodNone},
		{"missing campaign", "https://shop.example/?utm_source=ipick&utm_medium=suggestion", MethodNone},
		{"relative url", "/?utm_source=ipick&utm_medium=suggestion&utm_campaign=business_tracking", MethodNone},
		{"unparsable", "https://[::1/?utm_source=ipick", MethodNone},
		{"empty", "", MethodNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := order("o1")
			o.SourceURL = tt.sourceURL
			got := m.Match(o, nil)
			assert.Equal(t, tt.want, got.MatchMethod)
			assert.Equal(t, tt.want != MethodNone, got.IsAffiliateOrder)
			assert.Nil(t, got.MatchedReferral)
		})
	}
}

func TestMatcher_UTMBeatsTimeWindow(t *testing.T) {
	o := order("o1")
	o.SourceURL = affiliateURL
	refs := []models.Referral{referral("r1", orderTime.Add(-10*time.Hour), models.ConversionConverted)}

	got := NewMatcher().Match(o, refs)

	assert.Equal(t, MethodUTMParams, got.MatchMethod)
	assert.Nil(t, got.MatchedReferral)
	assert.Equal(t, "ipick", got.AffiliateSource)
	assert.Equal(t, "suggestion", got.AffiliateMedium)
	assert.Equal(t, "business_tracking", got.AffiliateCampaign)
}

func TestMatcher_TimeWindowBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		clicked time.Time
		match   bool
	}{
		{"same instant", orderTime, true},
		{"10 hours before", orderTime.Add(-10 * time.Hour), true},
		{"exactly 48h before", orderTime.Add(-48 * time.Hour), true},
		{"48h and 1ms before", orderTime.Add(-48*time.Hour - time.Millisecond), false},
		{"after the order", orderTime.Add(time.Millisecond), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			refs := []models.Referral{referral("r1", tt.clicked, models.ConversionConverted)}
			got := NewMatcher().Match(order("o1"), refs)
			if !tt.match {
				assert.Equal(t, MethodNone, got.MatchMethod)
				assert.False(t, got.IsAffiliateOrder)
				return
			}
			assert.Equal(t, MethodTimeWindow, got.MatchMethod)
			require.NotNil(t, got.MatchedReferral)
			assert.Equal(t, "r1", got.MatchedReferral.ID)
		})
	}
}

func TestMatcher_TimeWindowFiltersByStatusAndClickTime(t *testing.T) {
	refs := []models.Referral{
		referral("pending", orderTime.Add(-time.Hour), models.ConversionPending),
		{ID: "bad-click", ClickedAt: "soon", ConversionStatus: models.ConversionConverted},
		referral("converted", orderTime.Add(-2*time.Hour), models.ConversionConverted),
	}

	got := NewMatcher().Match(order("o1"), refs)
	require.NotNil(t, got.MatchedReferral)
	assert.Equal(t, "converted", got.MatchedReferral.ID)

	got = NewMatcher(WithConversionStatus("")).Match(order("o1"), refs)
	require.NotNil(t, got.MatchedReferral)
	assert.Equal(t, "pending", got.MatchedReferral.ID)
}

func TestMatcher_TieBreak(t *testing.T) {
	refs := []models.Referral{
		referral("far", orderTime.Add(-40*time.Hour), models.ConversionConverted),
		referral("near", orderTime.Add(-1*time.Hour), models.ConversionConverted),
		referral("near-dup", orderTime.Add(-1*time.Hour), models.ConversionConverted),
	}

	first := NewMatcher().Match(order("o1"), refs)
	require.NotNil(t, first.MatchedReferral)
	assert.Equal(t, "far", first.MatchedReferral.ID)

	nearest := NewMatcher(WithTieBreak(TieBreakNearestClick)).Match(order("o1"), refs)
	require.NotNil(t, nearest.MatchedReferral)
	assert.Equal(t, "near", nearest.MatchedReferral.ID)
}

func TestMatcher_UnparsableOrderTimeSkipsWindow(t *testing.T) {
	o := order("o1")
	o.CreatedAt = "garbage"
	o.SourceName = "iPick feed"
	refs := []models.Referral{referral("r1", orderTime.Add(-time.Hour), models.ConversionConverted)}

	got := NewMatcher().Match(o, refs)
	assert.Equal(t, MethodSourceName, got.MatchMethod)
}

func TestMatcher_SourceName(t *testing.T) {
	tests := []struct {
		sourceName string
		want       MatchMethod
	}{
		{"Pavlo Comparison Feed", MethodSourceName},
		{"IPICK", MethodSourceName},
		{"best PRICE COMPARISON sites", MethodSourceName},
		{"web", MethodNone},
		{"", MethodNone},
	}
	for _, tt := range tests {
		t.Run(tt.sourceName, func(t *testing.T) {
			o := order("o1")
			o.SourceName = tt.sourceName
			got := NewMatcher().Match(o, nil)
			assert.Equal(t, tt.want, got.MatchMethod)
			if tt.want == MethodSourceName {
				assert.Equal(t, AffiliateUTMSource, got.AffiliateSource)
				assert.Equal(t, AffiliateUTMMedium, got.AffiliateMedium)
				assert.Equal(t, AffiliateUTMCampaign, got.AffiliateCampaign)
			}
		})
	}
}

func TestMatcher_SourceNameScenario(t *testing.T) {
	o := order("o1")
	o.SourceName = "Pavlo Comparison Feed"
	refs := []models.Referral{
		referral("old", orderTime.Add(-72*time.Hour), models.ConversionConverted),
		referral("pending", orderTime.Add(-time.Hour), models.ConversionPending),
	}

	got := NewMatcher().Match(o, refs)

	assert.True(t, got.IsAffiliateOrder)
	assert.Equal(t, MethodSourceName, got.MatchMethod)
	assert.Nil(t, got.MatchedReferral)
}

func TestMatcher_CustomWindowAndTerms(t *testing.T) {
	m := NewMatcher(WithWindow(time.Hour), WithSourceTerms(" Partner ", ""))
	refs := []models.Referral{referral("r1", orderTime.Add(-2*time.Hour), models.ConversionConverted)}

	o := order("o1")
	o.SourceName = "ipick"
	assert.Equal(t, MethodNone, m.Match(o, refs).MatchMethod)

	o.SourceName = "partner network"
	assert.Equal(t, MethodSourceName, m.Match(o, refs).MatchMethod)
}

func TestMatcher_AttributeOrdersPreservesOrder(t *testing.T) {
	orders := []models.Order{order("a"), order("b"), order("c")}
	orders[1].SourceURL = affiliateURL
	orders[2].TotalPrice = "n/a"

	got := NewMatcher().AttributeOrders(orders, nil)

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, MethodNone, got[0].Attribution.MatchMethod)
	assert.Equal(t, MethodUTMParams, got[1].Attribution.MatchMethod)
	assert.True(t, got[2].Amount.IsZero())
	assert.True(t, got[0].HasCreated)
}

func TestMatcher_MatchedReferralIsACopy(t *testing.T) {
	refs := []models.Referral{referral("r1", orderTime.Add(-time.Hour), models.ConversionConverted)}
	got := NewMatcher().Match(order("o1"), refs)
	require.NotNil(t, got.MatchedReferral)

	refs[0].UTMSource = "changed"
	assert.Equal(t, "ipick", got.MatchedReferral.UTMSource)
}

func TestParseTieBreak(t *testing.T) {
	tb, err := ParseTieBreak("")
	require.NoError(t, err)
	assert.Equal(t, TieBreakFirstInList, tb)

	tb, err = ParseTieBreak("Nearest_Click")
	require.NoError(t, err)
	assert.Equal(t, TieBreakNearestClick, tb)

	_, err = ParseTieBreak("random")
	assert.Error(t, err)
}
