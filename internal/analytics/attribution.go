package analytics

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ipick/shop-analytics/internal/models"
	"github.com/shopspring/decimal"
)

// MatchMethod names the rule that classified an order.
type MatchMethod string

const (
	MethodUTMParams  MatchMethod = "utm_params"
	MethodTimeWindow MatchMethod = "time_window"
	MethodSourceName MatchMethod = "source_name"
	MethodNone       MatchMethod = "none"
)

// TieBreak selects among several referrals inside the conversion window.
type TieBreak string

const (
	// TieBreakFirstInList keeps the first qualifying referral in input order.
	TieBreakFirstInList TieBreak = "first_in_list"
	// TieBreakNearestClick keeps the qualifying referral clicked closest to
	// the order. Equal gaps fall back to input order.
	TieBreakNearestClick TieBreak = "nearest_click"
)

// ParseTieBreak validates a configured tie-break name.
func ParseTieBreak(s string) (TieBreak, error) {
	switch tb := TieBreak(strings.ToLower(strings.TrimSpace(s))); tb {
	case TieBreakFirstInList, TieBreakNearestClick:
		return tb, nil
	case "":
		return TieBreakFirstInList, nil
	default:
		return "", fmt.Errorf("unknown attribution tie-break %q", s)
	}
}

// Tracking parameters stamped on links sent from the comparison site.
const (
	AffiliateUTMSource   = "ipick"
	AffiliateUTMMedium   = "suggestion"
	AffiliateUTMCampaign = "business_tracking"
)

// DefaultConversionWindow is the longest click-to-order gap credited to a referral.
const DefaultConversionWindow = 48 * time.Hour

// DefaultSourceTerms are matched case-insensitively against an order's source name.
var DefaultSourceTerms = []string{"ipick", "pavlo", "price comparison"}

// Attribution is the classification of one order.
type Attribution struct {
	IsAffiliateOrder  bool             `json:"isAffiliateOrder"`
	MatchMethod       MatchMethod      `json:"matchMethod"`
	MatchedReferral   *models.Referral `json:"matchedReferral"`
	AffiliateSource   string           `json:"affiliateSource,omitempty"`
	AffiliateMedium   string           `json:"affiliateMedium,omitempty"`
	AffiliateCampaign string           `json:"affiliateCampaign,omitempty"`
}

// Matcher decides whether orders were driven by an affiliate referral.
// It holds configuration only and is safe for concurrent use.
type Matcher struct {
	window           time.Duration
	conversionStatus string
	sourceTerms      []string
	tieBreak         TieBreak
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithWindow sets the maximum click-to-order gap.
func WithWindow(d time.Duration) MatcherOption {
	return func(m *Matcher) { m.window = d }
}

// WithConversionStatus restricts time-window candidates to referrals in the
// given status. An empty status disables the filter.
func WithConversionStatus(status string) MatcherOption {
	return func(m *Matcher) { m.conversionStatus = status }
}

// WithSourceTerms replaces the source-name term set.
func WithSourceTerms(terms ...string) MatcherOption {
	return func(m *Matcher) {
		m.sourceTerms = make([]string, 0, len(terms))
		for _, t := range terms {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				m.sourceTerms = append(m.sourceTerms, t)
			}
		}
	}
}

// WithTieBreak sets the time-window tie-break.
func WithTieBreak(tb TieBreak) MatcherOption {
	return func(m *Matcher) { m.tieBreak = tb }
}

// NewMatcher returns a matcher with the production defaults: a 48 hour
// window over converted referrals, the default source terms and first-in-list
// tie-break.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		window:           DefaultConversionWindow,
		conversionStatus: models.ConversionConverted,
		sourceTerms:      DefaultSourceTerms,
		tieBreak:         TieBreakFirstInList,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ConversionStatus returns the status a referral needs to be credited.
func (m *Matcher) ConversionStatus() string {
	return m.conversionStatus
}

type candidate struct {
	ref       *models.Referral
	clickedAt time.Time
}

// candidates filters referrals by status and parsable click time, keeping
// input order.
func (m *Matcher) candidates(referrals []models.Referral) []candidate {
	out := make([]candidate, 0, len(referrals))
	for i := range referrals {
		r := &referrals[i]
		if m.conversionStatus != "" && r.ConversionStatus != m.conversionStatus {
			continue
		}
		at, err := ParseTimestamp(r.ClickedAt)
		if err != nil {
			continue
		}
		out = append(out, candidate{ref: r, clickedAt: at})
	}
	return out
}

// Match classifies one order against the referral list. Rules run in
// priority order and the first hit wins.
func (m *Matcher) Match(order models.Order, referrals []models.Referral) Attribution {
	return m.match(order, m.candidates(referrals))
}

func (m *Matcher) match(order models.Order, cands []candidate) Attribution {
	if q, ok := trackingQuery(order.SourceURL); ok && isAffiliateQuery(q) {
		return Attribution{
			IsAffiliateOrder:  true,
			MatchMethod:       MethodUTMParams,
			AffiliateSource:   q.Get("utm_source"),
			AffiliateMedium:   q.Get("utm_medium"),
			AffiliateCampaign: q.Get("utm_campaign"),
		}
	}

	if ref := m.matchWindow(order, cands); ref != nil {
		matched := *ref
		return Attribution{
			IsAffiliateOrder:  true,
			MatchMethod:       MethodTimeWindow,
			MatchedReferral:   &matched,
			AffiliateSource:   ref.UTMSource,
			AffiliateMedium:   ref.UTMMedium,
			AffiliateCampaign: ref.UTMCampaign,
		}
	}

	if m.matchSourceName(order.SourceName) {
		return Attribution{
			IsAffiliateOrder:  true,
			MatchMethod:       MethodSourceName,
			AffiliateSource:   AffiliateUTMSource,
			AffiliateMedium:   AffiliateUTMMedium,
			AffiliateCampaign: AffiliateUTMCampaign,
		}
	}

	return Attribution{MatchMethod: MethodNone}
}

// trackingQuery returns the query of an absolute source URL.
func trackingQuery(raw string) (url.Values, bool) {
	if raw == "" {
		return nil, false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, false
	}
	return u.Query(), true
}

func isAffiliateQuery(q url.Values) bool {
	return q.Get("utm_source") == AffiliateUTMSource &&
		q.Get("utm_medium") == AffiliateUTMMedium &&
		q.Get("utm_campaign") == AffiliateUTMCampaign
}

func (m *Matcher) matchWindow(order models.Order, cands []candidate) *models.Referral {
	if len(cands) == 0 {
		return nil
	}
	createdAt, err := ParseTimestamp(order.CreatedAt)
	if err != nil {
		return nil
	}

	var best *models.Referral
	var bestGap time.Duration
	for _, c := range cands {
		gap := createdAt.Sub(c.clickedAt)
		if gap < 0 || gap > m.window {
			continue
		}
		if m.tieBreak != TieBreakNearestClick {
			return c.ref
		}
		if best == nil || gap < bestGap {
			best, bestGap = c.ref, gap
		}
	}
	return best
}

func (m *Matcher) matchSourceName(name string) bool {
	if name == "" {
		return false
	}
	name = strings.ToLower(name)
	for _, term := range m.sourceTerms {
		if strings.Contains(name, term) {
			return true
		}
	}
	return false
}

// AttributedOrder is an order together with its classification and parsed
// price and creation time.
type AttributedOrder struct {
	models.Order
	Attribution Attribution
	Amount      decimal.Decimal
	Created     time.Time
	HasCreated  bool
}

// AttributeOrders classifies every order, preserving input order.
func (m *Matcher) AttributeOrders(orders []models.Order, referrals []models.Referral) []AttributedOrder {
	cands := m.candidates(referrals)
	out := make([]AttributedOrder, 0, len(orders))
	for _, o := range orders {
		ao := AttributedOrder{
			Order:       o,
			Attribution: m.match(o, cands),
			Amount:      parseAmount(o.TotalPrice),
		}
		if at, err := ParseTimestamp(o.CreatedAt); err == nil {
			ao.Created, ao.HasCreated = at, true
		}
		out = append(out, ao)
	}
	return out
}
