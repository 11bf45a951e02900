package tier

import "time"

// Interval is the billing frequency of a Price
type Interval string

// Defining the billing intervals offered for a Tier
const (
	IntervalMonth Interval = "month"
	IntervalYear  Interval = "year"
)

// Valid reports whether i is an interval this catalog sells
func (i Interval) Valid() bool {
	return i == IntervalMonth || i == IntervalYear
}

// Tier describes a subscription plan. This corresponds to Stripe's "Product"
type Tier struct {
	ID                string    `json:"id" gorm:"primaryKey"`
	ExternalProductID string    `json:"externalProductId" gorm:"index"` // Empty until provisioned on Stripe
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	AddonSlots        int       `json:"addonSlots"` // How many add-on products a subscriber on this tier may select
	IsActive          bool      `json:"isActive"`
	Prices            []Price   `json:"prices" gorm:"foreignKey:TierID"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// Price describes one billing interval of a Tier. This corresponds to
// Stripe's "Price". Amounts are immutable once issued; repricing a tier
// means inserting a new row and deactivating the old one, so invoices for
// existing subscriptions stay resolvable.
type Price struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	TierID          string    `json:"tierId" gorm:"index"`
	ExternalPriceID string    `json:"externalPriceId" gorm:"index"`
	Amount          int64     `json:"amount"` // Minor currency units (e.g. 900 for $9.00)
	Currency        string    `json:"currency"`
	Interval        Interval  `json:"interval" gorm:"column:billing_interval"` // "interval" is reserved in Postgres
	IsActive        bool      `json:"isActive"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName overrides gorm's default so the table doesn't collide with
// other pricing concepts down the road
func (Price) TableName() string {
	return "tier_prices"
}
