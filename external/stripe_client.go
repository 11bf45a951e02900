package external

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"
)

// StripeBilling implements Billing over the official Stripe client.
type StripeBilling struct {
	client        *client.API
	webhookSecret string
}

// NewStripeBilling returns a Billing implementation backed by Stripe
func NewStripeBilling(key, webhookSecret string) (*StripeBilling, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("empty Stripe key is invalid")
	}
	sc := &client.API{}
	sc.Init(key, nil)
	return &StripeBilling{
		client:        sc,
		webhookSecret: webhookSecret,
	}, nil
}

func (b *StripeBilling) CreateProduct(ctx context.Context, name, description string) (string, error) {
	params := &stripe.ProductParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Active:      stripe.Bool(true),
		Name:        stripe.String(name),
		Description: stripe.String(description),
	}
	prod, err := b.client.Products.New(params)
	if err != nil {
		return "", err
	}
	return prod.ID, nil
}

func (b *StripeBilling) UpdateProduct(ctx context.Context, productID string, name, description string) error {
	params := &stripe.ProductParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	if len(name) > 0 {
		params.Name = stripe.String(name)
	}
	if len(description) > 0 {
		params.Description = stripe.String(description)
	}
	_, err := b.client.Products.Update(productID, params)
	return err
}

func (b *StripeBilling) SetProductActive(ctx context.Context, productID string, active bool) error {
	params := &stripe.ProductParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Active: stripe.Bool(active),
	}
	_, err := b.client.Products.Update(productID, params)
	return err
}

func (b *StripeBilling) CreatePrice(ctx context.Context, productID string, amount int64, currency, interval string) (string, error) {
	params := &stripe.PriceParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Active:        stripe.Bool(true),
		BillingScheme: stripe.String("per_unit"),
		Currency:      stripe.String(currency),
		UnitAmount:    stripe.Int64(amount),
		Product:       stripe.String(productID),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(interval),
			IntervalCount: stripe.Int64(1),
			UsageType:     stripe.String("licensed"),
		},
	}
	price, err := b.client.Prices.New(params)
	if err != nil {
		return "", err
	}
	return price.ID, nil
}

func (b *StripeBilling) SetPriceActive(ctx context.Context, priceID string, active bool) error {
	params := &stripe.PriceParams{
		Params: stripe.Params{
			Context: ctx,
		},
		Active: stripe.Bool(active),
	}
	_, err := b.client.Prices.Update(priceID, params)
	return err
}

func (b *StripeBilling) CreateCheckoutSession(ctx context.Context, opt CheckoutSessionOptions) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: opt.Metadata,
		},
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(opt.SuccessURL),
		CancelURL:          stripe.String(opt.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(opt.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	if len(opt.CustomerEmail) > 0 {
		params.CustomerEmail = stripe.String(opt.CustomerEmail)
	}
	if opt.CollectShipping {
		params.ShippingAddressCollection = &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(opt.AllowedCountries),
		}
	}
	if opt.CollectPromoOptIn {
		params.ConsentCollection = &stripe.CheckoutSessionConsentCollectionParams{
			Promotions: stripe.String("auto"),
		}
	}
	return b.client.CheckoutSessions.New(params)
}

func (b *StripeBilling) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
	}
	return b.client.Subscriptions.Get(subscriptionID, params)
}

func (b *StripeBilling) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context: ctx,
		},
		CancelAtPeriodEnd: stripe.Bool(cancel),
	}
	return b.client.Subscriptions.Update(subscriptionID, params)
}

// SwapSubscriptionPrice replaces the subscription's single recurring item
// with the new price, prorating per Stripe's default behavior. The provided
// metadata is stamped on the subscription so later lifecycle events carry it.
func (b *StripeBilling) SwapSubscriptionPrice(ctx context.Context, subscriptionID, newPriceID string, metadata map[string]string) (*stripe.Subscription, error) {
	current, err := b.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, fmt.Errorf("subscription %s has no items to swap", subscriptionID)
	}
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context:  ctx,
			Metadata: metadata,
		},
		ProrationBehavior: stripe.String("create_prorations"),
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(newPriceID),
			},
		},
	}
	return b.client.Subscriptions.Update(subscriptionID, params)
}

func (b *StripeBilling) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, b.webhookSecret)
}
