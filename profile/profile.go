package profile

import "time"

// Address holds a postal address for print delivery
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Profile is the billing-side record of a person. The ID is shared with the
// identity subsystem once the account is claimed; a profile created by an
// unauthenticated checkout carries a generated id and a nil AccountClaimedAt
// until the purchaser claims it. Profiles are updated, never deleted.
type Profile struct {
	ID                 string     `json:"id" gorm:"primaryKey"`
	ExternalCustomerID string     `json:"externalCustomerId" gorm:"index"`
	StripeCustomerID   string     `json:"stripeCustomerId" gorm:"uniqueIndex"`
	Email              string     `json:"email" gorm:"index"`
	DisplayName        string     `json:"displayName"`
	MarketingOptIn     bool       `json:"marketingOptIn"`
	ShippingName       string     `json:"shippingName"`
	ShippingAddress    Address    `json:"shippingAddress" gorm:"embedded;embeddedPrefix:shipping_"`
	AccountClaimedAt   *time.Time `json:"accountClaimedAt"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}
