package models

// Referral conversion statuses.
const (
	ConversionPending   = "pending"
	ConversionConverted = "converted"
	ConversionAbandoned = "abandoned"
)

// Referral is an affiliate click that sent a shopper to a merchant.
type Referral struct {
	ID               string   `json:"id"`
	ReferralID       string   `json:"referralId,omitempty"`
	BusinessDomain   string   `json:"businessDomain,omitempty"`
	ClickedAt        string   `json:"clickedAt"`
	UTMSource        string   `json:"utmSource,omitempty"`
	UTMMedium        string   `json:"utmMedium,omitempty"`
	UTMCampaign      string   `json:"utmCampaign,omitempty"`
	ConversionStatus string   `json:"conversionStatus,omitempty"`
	ConversionValue  *float64 `json:"conversionValue,omitempty"`
	ShopID           string   `json:"shopId,omitempty"`
}
