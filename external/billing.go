package external

import (
	"context"

	"github.com/stripe/stripe-go/v72"
)

// BillingService is the name reported in external-service failures
const BillingService = "stripe"

// CheckoutSessionOptions describes a hosted checkout session request.
// Metadata is attached to the session and read back from the
// checkout.session.completed event.
type CheckoutSessionOptions struct {
	PriceID           string
	CustomerEmail     string
	SuccessURL        string
	CancelURL         string
	Metadata          map[string]string
	CollectShipping   bool
	AllowedCountries  []string
	CollectPromoOptIn bool
}

// Billing is the payment-processor surface consumed by the catalog and
// subscription managers. The concrete implementation talks to Stripe;
// tests substitute fakes.
type Billing interface {
	CreateProduct(ctx context.Context, name, description string) (string, error)
	UpdateProduct(ctx context.Context, productID string, name, description string) error
	SetProductActive(ctx context.Context, productID string, active bool) error

	CreatePrice(ctx context.Context, productID string, amount int64, currency, interval string) (string, error)
	SetPriceActive(ctx context.Context, priceID string, active bool) error

	CreateCheckoutSession(ctx context.Context, opt CheckoutSessionOptions) (*stripe.CheckoutSession, error)

	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error)
	SwapSubscriptionPrice(ctx context.Context, subscriptionID, newPriceID string, metadata map[string]string) (*stripe.Subscription, error)

	ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error)
}
