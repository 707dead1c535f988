package models

// Journey event types emitted by the storefront tracking script.
const (
	EventVisit            = "visit"
	EventPageView         = "page_view"
	EventAddToCart        = "add_to_cart"
	EventCheckoutStart    = "checkout_start"
	EventCheckoutComplete = "checkout_complete"
	EventPurchase         = "purchase"
)

// JourneyEvent is one tracked step of a shopper's visit.
// Empty strings stand for missing values; Timestamp is kept raw and parsed
// by the analytics engine so malformed values can be rejected there.
type JourneyEvent struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId,omitempty"`
	EventType string `json:"eventType"`
	Timestamp string `json:"timestamp"`

	// Page
	PageURL   string `json:"pageUrl,omitempty"`
	PageTitle string `json:"pageTitle,omitempty"`

	// Product / cart
	ProductID    string   `json:"productId,omitempty"`
	ProductName  string   `json:"productName,omitempty"`
	CartValue    *float64 `json:"cartValue,omitempty"`
	DiscountCode string   `json:"discountCode,omitempty"`

	// Marketing
	UTMSource        string `json:"utmSource,omitempty"`
	UTMMedium        string `json:"utmMedium,omitempty"`
	UTMCampaign      string `json:"utmCampaign,omitempty"`
	BusinessReferral string `json:"businessReferral,omitempty"` // referral id

	// Client
	DeviceType  string `json:"deviceType,omitempty"`
	BrowserName string `json:"browserName,omitempty"`
	Country     string `json:"country,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`
}
