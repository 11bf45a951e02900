package catalog

// Operation names reported on partial failures
const (
	OpCreateTier     = "create_tier"
	OpUpdateTier     = "update_tier"
	OpAddTierPrice   = "add_tier_price"
	OpDeactivateTier = "deactivate_tier"
)

// Step names of the tier creation protocol, in execution order
const (
	StepProductCreated    = "product_created"
	StepTierRowInserted   = "tier_row_inserted"
	StepPricesCreated     = "prices_created"
	StepPriceRowsInserted = "price_rows_inserted"
)

// Step names of the tier update protocol
const (
	StepProductUpdated = "product_updated"
	StepTierRowUpdated = "tier_row_updated"
)

// Step names of the repricing protocol
const (
	StepPriceCreated       = "price_created"
	StepPriorPriceArchived = "prior_price_archived"
	StepPriceRowsSwapped   = "price_rows_swapped"
)

// Step names of the tier deactivation protocol, the creation protocol
// unwound in reverse order
const (
	StepProductArchived      = "product_archived"
	StepPricesArchived       = "prices_archived"
	StepPriceRowsDeactivated = "price_rows_deactivated"
	StepTierRowDeactivated   = "tier_row_deactivated"
)
