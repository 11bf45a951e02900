package addon

import "time"

// Product is an optional extra a subscriber may select within their tier's
// add-on capacity. Add-ons carry no pricing of their own and are never
// mirrored to the payment processor; they are selections, not billed line
// items.
type Product struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	IsActive    bool      `json:"isActive"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// TableName keeps the table name unambiguous next to tiers and prices
func (Product) TableName() string {
	return "addon_products"
}
