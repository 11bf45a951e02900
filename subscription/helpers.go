package subscription

import (
	"strings"
	"time"

	"github.com/stripe/stripe-go/v72"
)

// Metadata keys carried on checkout sessions (and stamped back onto the
// processor subscription on tier changes) so webhook events stay
// self-describing.
const (
	MetaTierID      = "tier_id"
	MetaTierPriceID = "tier_price_id"
	MetaInterval    = "interval"
	MetaAddonIDs    = "addon_product_ids"
)

// statusFromStripe maps a processor subscription onto the local Status.
// Stripe models pausing as a collection flag rather than a status.
func statusFromStripe(sub *stripe.Subscription) Status {
	if sub.PauseCollection.Behavior != "" {
		return StatusPaused
	}
	return Status(sub.Status)
}

func periodFromStripe(sub *stripe.Subscription) (start time.Time, end time.Time) {
	return time.Unix(sub.CurrentPeriodStart, 0), time.Unix(sub.CurrentPeriodEnd, 0)
}

// ParseAddonMetadata splits the comma-separated addon id list out of
// checkout metadata. An absent or empty value means no selections.
func ParseAddonMetadata(meta map[string]string) []string {
	raw := strings.TrimSpace(meta[MetaAddonIDs])
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

func joinAddonMetadata(ids []string) string {
	return strings.Join(ids, ",")
}
