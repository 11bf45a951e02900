package subscription

// Status is the custom type to define the current state of a subscription.
// Values mirror the payment processor's lifecycle statuses; the processor's
// record is the source of truth and local state only ever follows it.
type Status string

// Defining different Statuses for a Subscription
const (
	StatusTrialing          Status = "trialing"
	StatusActive            Status = "active"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusUnpaid            Status = "unpaid"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusPaused            Status = "paused"
)

// activeFamily are the statuses that count as "the" subscription of a user.
// At most one subscription per user may hold one of these at a time.
var activeFamily = []Status{StatusActive, StatusTrialing, StatusPastDue}

// InActiveFamily reports whether s counts toward the one-active-per-user invariant
func (s Status) InActiveFamily() bool {
	for _, a := range activeFamily {
		if s == a {
			return true
		}
	}
	return false
}

// Step names reported in partial-operation failures of user-driven mutations
const (
	StepPriceSwapped   = "price_swapped"
	StepTierRowUpdated = "tier_row_updated"
	StepAddonsReplaced = "addons_replaced"
)
