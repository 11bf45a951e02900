package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/mamazine/backend/external"
	"github.com/mamazine/backend/fault"
	"github.com/mamazine/backend/profile"
	"github.com/mamazine/backend/subscription"

	"github.com/go-chi/chi"
	"github.com/go-redis/redis/v7"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// maxBodyBytes caps the webhook payload size, per Stripe's recommendation
const maxBodyBytes = int64(65536)

// dedupTTL is how long a processed event id is remembered. Stripe retries
// for up to three days; handlers remain idempotent on their own, so losing
// a key early only costs a redundant pass.
const dedupTTL = 72 * time.Hour

// SubscriptionHandler is the slice of subscription lifecycle handling the
// webhook dispatcher needs. subscription.Manager satisfies it.
type SubscriptionHandler interface {
	HandleCheckoutCompleted(ctx context.Context, input subscription.CheckoutCompletedInput) (*subscription.Subscription, error)
	HandleSubscriptionUpdated(ctx context.Context, ext *stripe.Subscription) (*subscription.Subscription, error)
	HandleSubscriptionDeleted(ctx context.Context, externalID string) (*subscription.Subscription, error)
}

// ServiceOptions contains the configuration for Service router. Redis is
// optional; without it every delivery runs the handlers, which stay safe
// through their own idempotency.
type ServiceOptions struct {
	SubscriptionHandler SubscriptionHandler
	Billing             external.Billing
	Redis               redis.UniversalClient
	Logger              *zap.Logger
}

// Service receives event deliveries from the payment processor and routes
// them to the subscription lifecycle handlers
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the webhook router
func NewService(option ServiceOptions) (*Service, error) {
	if option.SubscriptionHandler == nil {
		return nil, fmt.Errorf("nil SubscriptionHandler is invalid")
	}
	if option.Billing == nil {
		return nil, fmt.Errorf("nil Billing is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// alreadySeen reports whether a prior delivery of this event was handled
// to completion. Dedup is best effort; a redis failure lets the event
// through rather than dropping it.
func (s *Service) alreadySeen(eventID string) bool {
	if s.Redis == nil {
		return false
	}
	n, err := s.Redis.Exists("webhook:event:" + eventID).Result()
	if err != nil {
		s.Logger.Warn("Unable to check event dedup key in redis",
			zap.String("EventID", eventID),
			zap.Error(err),
		)
		return false
	}
	return n > 0
}

// markSeen records the event id once handling succeeded. A failed delivery
// must not be remembered, or the re-delivery would be skipped as a
// duplicate and the event lost.
func (s *Service) markSeen(eventID string) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Set("webhook:event:"+eventID, 1, dedupTTL).Err(); err != nil {
		s.Logger.Warn("Unable to record event dedup key in redis",
			zap.String("EventID", eventID),
			zap.Error(err),
		)
	}
}

func ack(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]bool{
		"received": true,
	})
}

func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	payload, err := ioutil.ReadAll(r.Body)
	if err != nil {
		s.Logger.Error("Unable to read webhook payload",
			zap.Error(err),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	event, err := s.Billing.ConstructWebhookEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.Logger.Warn("Webhook signature verification failed",
			zap.Error(err),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	logger := s.Logger.With(
		zap.String("EventID", event.ID),
		zap.String("EventType", event.Type),
	)

	if s.alreadySeen(event.ID) {
		logger.Info("Skipping duplicate event delivery")
		ack(w)
		return
	}

	switch event.Type {
	case "checkout.session.completed":
		err = s.handleCheckoutCompleted(ctx, logger, event)
	case "customer.subscription.updated":
		err = s.handleSubscriptionUpdated(ctx, logger, event)
	case "customer.subscription.deleted":
		err = s.handleSubscriptionDeleted(ctx, logger, event)
	case "invoice.paid", "invoice.payment_failed":
		err = s.handleInvoiceEvent(ctx, logger, event)
	default:
		logger.Debug("Ignoring unhandled event type")
	}

	if err != nil {
		switch fault.KindOf(err) {
		case fault.KindValidation:
			// malformed payload, a retry cannot fix it
			logger.Warn("Rejecting malformed event",
				zap.Error(err),
			)
			w.WriteHeader(http.StatusBadRequest)
		default:
			// includes not-found from an event racing ahead of the
			// completion event; the re-delivery arrives after it settles
			logger.Error("Event handling failed",
				zap.Error(err),
			)
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}

	s.markSeen(event.ID)
	ack(w)
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, logger *zap.Logger, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fault.Validation("event payload is not a checkout session")
	}
	if sess.Mode != stripe.CheckoutSessionModeSubscription {
		logger.Debug("Ignoring non-subscription checkout session",
			zap.String("SessionID", sess.ID),
		)
		return nil
	}

	input := subscription.CheckoutCompletedInput{
		Metadata:       sess.Metadata,
		PromotionOptIn: sess.Consent != nil && sess.Consent.Promotions == "opt_in",
	}
	if sess.Subscription != nil {
		input.ExternalSubscriptionID = sess.Subscription.ID
	}
	if sess.Customer != nil {
		input.StripeCustomerID = sess.Customer.ID
	}
	if sess.CustomerDetails != nil {
		input.CustomerEmail = sess.CustomerDetails.Email
		input.CustomerName = sess.CustomerDetails.Name
	}
	if sess.Shipping != nil {
		input.ShippingName = sess.Shipping.Name
		if sess.Shipping.Address != nil {
			input.ShippingAddress = &profile.Address{
				Line1:      sess.Shipping.Address.Line1,
				Line2:      sess.Shipping.Address.Line2,
				City:       sess.Shipping.Address.City,
				State:      sess.Shipping.Address.State,
				PostalCode: sess.Shipping.Address.PostalCode,
				Country:    sess.Shipping.Address.Country,
			}
		}
	}

	sub, err := s.SubscriptionHandler.HandleCheckoutCompleted(ctx, input)
	if err != nil {
		return err
	}

	logger.Info("Checkout completion recorded",
		zap.String("SubscriptionID", sub.ID),
		zap.String("ExternalSubscriptionID", sub.ExternalSubscriptionID),
	)
	return nil
}

func (s *Service) handleSubscriptionUpdated(ctx context.Context, logger *zap.Logger, event stripe.Event) error {
	var ext stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &ext); err != nil {
		return fault.Validation("event payload is not a subscription")
	}

	sub, err := s.SubscriptionHandler.HandleSubscriptionUpdated(ctx, &ext)
	if err != nil {
		return err
	}

	logger.Info("Subscription lifecycle updated",
		zap.String("SubscriptionID", sub.ID),
		zap.String("Status", string(sub.Status)),
	)
	return nil
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, logger *zap.Logger, event stripe.Event) error {
	var ext stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &ext); err != nil {
		return fault.Validation("event payload is not a subscription")
	}

	sub, err := s.SubscriptionHandler.HandleSubscriptionDeleted(ctx, ext.ID)
	if err != nil {
		return err
	}

	logger.Info("Subscription marked canceled",
		zap.String("SubscriptionID", sub.ID),
	)
	return nil
}

// handleInvoiceEvent folds payment outcomes into lifecycle state. The
// invoice payload carries a stale subscription snapshot, so the live
// record is fetched instead of trusting it.
func (s *Service) handleInvoiceEvent(ctx context.Context, logger *zap.Logger, event stripe.Event) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fault.Validation("event payload is not an invoice")
	}
	if inv.Subscription == nil {
		logger.Debug("Ignoring invoice with no subscription",
			zap.String("InvoiceID", inv.ID),
		)
		return nil
	}

	ext, err := s.Billing.GetSubscription(ctx, inv.Subscription.ID)
	if err != nil {
		return fault.External(external.BillingService, err)
	}

	sub, err := s.SubscriptionHandler.HandleSubscriptionUpdated(ctx, ext)
	if err != nil {
		return err
	}

	logger.Info("Payment outcome applied",
		zap.String("SubscriptionID", sub.ID),
		zap.String("Status", string(sub.Status)),
	)
	return nil
}

// Router will return the webhook intake route. It is mounted without
// authentication; the signature check is the authentication.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Post("/", s.handleWebhook)

	return r
}
