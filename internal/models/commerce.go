package models

// Shop is a merchant store connected to the add-on.
type Shop struct {
	ID              string `json:"id"`
	Domain          string `json:"domain"`
	MyshopifyDomain string `json:"myshopifyDomain"`
	Name            string `json:"name"`
	Email           string `json:"email,omitempty"`
	Currency        string `json:"currency,omitempty"`
	PlanName        string `json:"planName,omitempty"`
	CreatedAt       string `json:"createdAt,omitempty"`
}

// MatchesDomain reports whether the shop is served under the given domain.
func (s Shop) MatchesDomain(domain string) bool {
	return domain != "" && (s.Domain == domain || s.MyshopifyDomain == domain)
}

// Order is a completed commerce transaction as delivered by the platform.
// TotalPrice is a decimal string; CreatedAt is a raw timestamp.
type Order struct {
	ID                string `json:"id"`
	Name              string `json:"name,omitempty"`
	Email             string `json:"email,omitempty"`
	CreatedAt         string `json:"createdAt"`
	TotalPrice        string `json:"totalPrice"`
	Currency          string `json:"currency,omitempty"`
	FinancialStatus   string `json:"financialStatus,omitempty"`
	FulfillmentStatus string `json:"fulfillmentStatus,omitempty"`
	SourceURL         string `json:"sourceUrl,omitempty"`
	SourceName        string `json:"sourceName,omitempty"`
	ShopID            string `json:"shopId,omitempty"`
}

// Checkout is a started (and possibly completed) checkout.
type Checkout struct {
	ID               string `json:"id"`
	Email            string `json:"email,omitempty"`
	Name             string `json:"name,omitempty"`
	Token            string `json:"token,omitempty"`
	CreatedAt        string `json:"createdAt"`
	CompletedAt      string `json:"completedAt,omitempty"`
	TotalPrice       string `json:"totalPrice"`
	Currency         string `json:"currency,omitempty"`
	SourceURL        string `json:"sourceUrl,omitempty"`
	SourceName       string `json:"sourceName,omitempty"`
	ProcessingStatus string `json:"processingStatus,omitempty"`
	ShopID           string `json:"shopId,omitempty"`
}

// IsCompleted reports whether the checkout turned into an order.
func (c Checkout) IsCompleted() bool {
	return c.CompletedAt != ""
}
