package subscription

import "time"

// Subscription mirrors one processor-side subscription. The row is created
// only on confirmed payment (checkout completion) and is never deleted;
// cancellation flips Status to canceled while the tier reference and period
// history stay resolvable for past invoices.
type Subscription struct {
	ID                     string           `json:"id" gorm:"primaryKey"`
	ExternalSubscriptionID string           `json:"externalSubscriptionId" gorm:"uniqueIndex"` // Corresponds to Stripe's Subscription ID
	UserID                 string           `json:"userId" gorm:"index"`
	TierID                 string           `json:"tierId" gorm:"index"`
	TierPriceID            string           `json:"tierPriceId"`
	Status                 Status           `json:"status" gorm:"index"`
	CurrentPeriodStart     time.Time        `json:"currentPeriodStart"`
	CurrentPeriodEnd       time.Time        `json:"currentPeriodEnd"`
	CancelAtPeriodEnd      bool             `json:"cancelAtPeriodEnd"`
	AddonSelections        []AddonSelection `json:"addonSelections" gorm:"foreignKey:SubscriptionID"`
	CreatedAt              time.Time        `json:"createdAt"`
	UpdatedAt              time.Time        `json:"updatedAt"`
}

// AddonSelection links a subscription to one chosen add-on product. The set
// of selections must not exceed the tier's addon_slots at the moment of
// write; the service enforces this, not the store.
type AddonSelection struct {
	SubscriptionID string    `json:"subscriptionId" gorm:"primaryKey"`
	AddonProductID string    `json:"addonProductId" gorm:"primaryKey"`
	CreatedAt      time.Time `json:"createdAt"`
}
