package subscription

import (
	"context"
	"fmt"

	"github.com/mamazine/backend/addon"
	"github.com/mamazine/backend/external"
	"github.com/mamazine/backend/fault"
	"github.com/mamazine/backend/profile"
	"github.com/mamazine/backend/tier"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// CheckoutPolicy configures the hosted checkout surface
type CheckoutPolicy struct {
	CollectShipping   bool
	AllowedCountries  []string
	CollectPromoOptIn bool
}

// ManagerOptions contains the configuration for the subscription Manager
type ManagerOptions struct {
	Repository        Repository
	ProfileRepository profile.Repository
	TierRepository    tier.Repository
	AddonRepository   addon.Repository
	Billing           external.Billing
	Logger            *zap.Logger
	Checkout          CheckoutPolicy
}

// Manager owns every write to Subscription and AddonSelection rows. It
// applies webhook-driven lifecycle transitions and user-driven mutations,
// always calling the payment processor before touching local state so the
// two can never diverge in the optimistic direction.
type Manager struct {
	ManagerOptions
}

// NewManager validates the options and returns a subscription Manager
func NewManager(option ManagerOptions) (*Manager, error) {
	if option.Repository == nil {
		return nil, fmt.Errorf("nil Repository is invalid")
	}
	if option.ProfileRepository == nil {
		return nil, fmt.Errorf("nil ProfileRepository is invalid")
	}
	if option.TierRepository == nil {
		return nil, fmt.Errorf("nil TierRepository is invalid")
	}
	if option.AddonRepository == nil {
		return nil, fmt.Errorf("nil AddonRepository is invalid")
	}
	if option.Billing == nil {
		return nil, fmt.Errorf("nil Billing is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Manager{
		ManagerOptions: option,
	}, nil
}

// validateSelection checks an addon selection against a tier's capacity and
// the addon catalog. It performs no writes; any failure leaves the store
// untouched.
func (m *Manager) validateSelection(ctx context.Context, t *tier.Tier, addonProductIDs []string) error {
	messages := make([]string, 0, 2)
	if len(addonProductIDs) > t.AddonSlots {
		messages = append(messages, fmt.Sprintf("addon selection exceeds tier capacity of %d", t.AddonSlots))
	}
	seen := make(map[string]struct{}, len(addonProductIDs))
	for _, id := range addonProductIDs {
		if _, ok := seen[id]; ok {
			messages = append(messages, "duplicate addon selection")
			break
		}
		seen[id] = struct{}{}
	}
	if len(messages) > 0 {
		return fault.Validation(messages...)
	}
	if len(addonProductIDs) == 0 {
		return nil
	}
	active, err := m.AddonRepository.GetActiveByIDs(ctx, addonProductIDs)
	if err != nil {
		return err
	}
	if len(active) != len(addonProductIDs) {
		return fault.Validation("one or more addons are not available")
	}
	return nil
}

// CheckoutInput describes a hosted checkout request. The purchaser may be
// anonymous; no local rows are written until the processor confirms payment.
type CheckoutInput struct {
	TierID          string
	Interval        tier.Interval
	AddonProductIDs []string
	SuccessURL      string
	CancelURL       string
	CustomerEmail   string
}

// CheckoutSession is the redirect target returned to the client
type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateCheckoutSession validates the tier/interval/addon combination and
// requests a hosted checkout session with the selection embedded as metadata
// for retrieval when the completion webhook arrives.
func (m *Manager) CreateCheckoutSession(ctx context.Context, input CheckoutInput) (*CheckoutSession, error) {
	if !input.Interval.Valid() {
		return nil, fault.Validation(fmt.Sprintf("interval must be %q or %q", tier.IntervalMonth, tier.IntervalYear))
	}
	t, err := m.TierRepository.GetByID(ctx, input.TierID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, fault.Validation("tier is not available")
	}
	if err := m.validateSelection(ctx, t, input.AddonProductIDs); err != nil {
		return nil, err
	}
	price, err := m.TierRepository.GetActivePrice(ctx, t.ID, input.Interval)
	if err != nil {
		return nil, err
	}

	sess, err := m.Billing.CreateCheckoutSession(ctx, external.CheckoutSessionOptions{
		PriceID:       price.ExternalPriceID,
		CustomerEmail: input.CustomerEmail,
		SuccessURL:    input.SuccessURL,
		CancelURL:     input.CancelURL,
		Metadata: map[string]string{
			MetaTierID:      t.ID,
			MetaTierPriceID: price.ID,
			MetaInterval:    string(input.Interval),
			MetaAddonIDs:    joinAddonMetadata(input.AddonProductIDs),
		},
		CollectShipping:   m.Checkout.CollectShipping,
		AllowedCountries:  m.Checkout.AllowedCountries,
		CollectPromoOptIn: m.Checkout.CollectPromoOptIn,
	})
	if err != nil {
		m.Logger.Error("Unable to create checkout session on Stripe",
			zap.String("TierID", t.ID),
			zap.Error(err),
		)
		return nil, fault.External(external.BillingService, err)
	}

	return &CheckoutSession{
		SessionID: sess.ID,
		URL:       sess.URL,
	}, nil
}

// CheckoutCompletedInput carries the fields of a checkout.session.completed
// event that this core consumes. Email and customer id are the only
// correlation available; the purchaser may not hold a session yet.
type CheckoutCompletedInput struct {
	ExternalSubscriptionID string
	StripeCustomerID       string
	CustomerEmail          string
	CustomerName           string
	Metadata               map[string]string
	ShippingName           string
	ShippingAddress        *profile.Address
	PromotionOptIn         bool
}

// HandleCheckoutCompleted records a confirmed purchase. Idempotent on the
// external subscription id: re-delivery returns the previously created row
// unchanged.
func (m *Manager) HandleCheckoutCompleted(ctx context.Context, input CheckoutCompletedInput) (*Subscription, error) {
	if len(input.ExternalSubscriptionID) == 0 {
		return nil, fault.Validation("checkout session carries no subscription id")
	}

	existing, err := m.Repository.GetByExternalID(ctx, input.ExternalSubscriptionID)
	if err == nil {
		m.Logger.Info("Duplicate checkout completion, returning existing subscription",
			zap.String("ExternalSubscriptionID", input.ExternalSubscriptionID),
		)
		return existing, nil
	}
	if !fault.IsNotFound(err) {
		return nil, err
	}

	tierID := input.Metadata[MetaTierID]
	tierPriceID := input.Metadata[MetaTierPriceID]
	if len(tierID) == 0 || len(tierPriceID) == 0 {
		return nil, fault.Validation("checkout session metadata is missing tier information")
	}
	addonIDs := ParseAddonMetadata(input.Metadata)

	prof, err := m.resolveProfile(ctx, input)
	if err != nil {
		return nil, err
	}

	// the session payload has no period bounds; the live external record does
	ext, err := m.Billing.GetSubscription(ctx, input.ExternalSubscriptionID)
	if err != nil {
		m.Logger.Error("Unable to fetch subscription from Stripe after checkout",
			zap.String("ExternalSubscriptionID", input.ExternalSubscriptionID),
			zap.Error(err),
		)
		return nil, fault.External(external.BillingService, err)
	}

	periodStart, periodEnd := periodFromStripe(ext)
	selections := make([]AddonSelection, 0, len(addonIDs))
	for _, addonID := range addonIDs {
		selections = append(selections, AddonSelection{
			AddonProductID: addonID,
		})
	}
	sub := &Subscription{
		ID:                     uuid.New().String(),
		ExternalSubscriptionID: input.ExternalSubscriptionID,
		UserID:                 prof.ID,
		TierID:                 tierID,
		TierPriceID:            tierPriceID,
		Status:                 statusFromStripe(ext),
		CurrentPeriodStart:     periodStart,
		CurrentPeriodEnd:       periodEnd,
		CancelAtPeriodEnd:      ext.CancelAtPeriodEnd,
		AddonSelections:        selections,
	}
	for i := range sub.AddonSelections {
		sub.AddonSelections[i].SubscriptionID = sub.ID
	}

	if err := m.Repository.Create(ctx, sub); err != nil {
		// a concurrent delivery may have won the insert; the unique index
		// on the external id makes that race detectable instead of fatal
		if winner, lookupErr := m.Repository.GetByExternalID(ctx, input.ExternalSubscriptionID); lookupErr == nil {
			m.Logger.Warn("Concurrent checkout completion detected",
				zap.String("ExternalSubscriptionID", input.ExternalSubscriptionID),
			)
			return winner, nil
		}
		return nil, err
	}

	return sub, nil
}

// resolveProfile finds the purchaser's profile by processor customer id,
// falls back to email, and lazily creates one when neither matches.
func (m *Manager) resolveProfile(ctx context.Context, input CheckoutCompletedInput) (*profile.Profile, error) {
	prof, err := m.ProfileRepository.GetByStripeCustomerID(ctx, input.StripeCustomerID)
	if err == nil {
		return prof, nil
	}
	if !fault.IsNotFound(err) {
		return nil, err
	}

	if len(input.CustomerEmail) > 0 {
		prof, err = m.ProfileRepository.GetByEmail(ctx, input.CustomerEmail)
		if err == nil {
			prof.StripeCustomerID = input.StripeCustomerID
			prof.ExternalCustomerID = input.StripeCustomerID
			if saveErr := m.ProfileRepository.Save(ctx, prof); saveErr != nil {
				return nil, saveErr
			}
			return prof, nil
		}
		if !fault.IsNotFound(err) {
			return nil, err
		}
	}

	prof = &profile.Profile{
		ID:                 uuid.New().String(),
		ExternalCustomerID: input.StripeCustomerID,
		StripeCustomerID:   input.StripeCustomerID,
		Email:              input.CustomerEmail,
		DisplayName:        input.CustomerName,
		MarketingOptIn:     input.PromotionOptIn,
		ShippingName:       input.ShippingName,
	}
	if input.ShippingAddress != nil {
		prof.ShippingAddress = *input.ShippingAddress
	}
	if err := m.ProfileRepository.Create(ctx, prof); err != nil {
		return nil, err
	}
	return prof, nil
}

// HandleSubscriptionUpdated overwrites the local lifecycle fields with the
// external record's current values. The external record always wins; events
// replayed out of order simply apply last-write-wins. An unknown external id
// is reported as not-found so the caller can retry after the creation race
// settles.
func (m *Manager) HandleSubscriptionUpdated(ctx context.Context, ext *stripe.Subscription) (*Subscription, error) {
	sub, err := m.Repository.GetByExternalID(ctx, ext.ID)
	if err != nil {
		return nil, err
	}

	periodStart, periodEnd := periodFromStripe(ext)
	if err := m.Repository.UpdateLifecycle(ctx, ext.ID, statusFromStripe(ext), periodStart, periodEnd, ext.CancelAtPeriodEnd); err != nil {
		return nil, err
	}

	// tier metadata stamped during a price swap is authoritative; this is
	// what heals a tier change whose local write failed partway
	metaTier := ext.Metadata[MetaTierID]
	metaPrice := ext.Metadata[MetaTierPriceID]
	if len(metaTier) > 0 && len(metaPrice) > 0 && (metaTier != sub.TierID || metaPrice != sub.TierPriceID) {
		m.Logger.Info("Reconciling subscription tier from event metadata",
			zap.String("ExternalSubscriptionID", ext.ID),
			zap.String("TierID", metaTier),
		)
		if err := m.Repository.UpdateTierPrice(ctx, sub.ID, metaTier, metaPrice); err != nil {
			return nil, err
		}
	}

	return m.Repository.GetByExternalID(ctx, ext.ID)
}

// HandleSubscriptionDeleted marks the subscription canceled. The row is
// retained; historical billing records must survive cancellation.
func (m *Manager) HandleSubscriptionDeleted(ctx context.Context, externalID string) (*Subscription, error) {
	if err := m.Repository.SetStatus(ctx, externalID, StatusCanceled); err != nil {
		return nil, err
	}
	return m.Repository.GetByExternalID(ctx, externalID)
}

// GetByUserID returns the user's most recent subscription, canceled ones
// included, with selections loaded.
func (m *Manager) GetByUserID(ctx context.Context, userID string) (*Subscription, error) {
	return m.Repository.GetLatestByUserID(ctx, userID)
}

// Cancel flags the user's subscription to end at the period close. The
// processor call happens first; if it fails nothing changes locally.
func (m *Manager) Cancel(ctx context.Context, userID string) (*Subscription, error) {
	return m.setCancelFlag(ctx, userID, true)
}

// Reactivate clears a pending cancellation before the period closes
func (m *Manager) Reactivate(ctx context.Context, userID string) (*Subscription, error) {
	return m.setCancelFlag(ctx, userID, false)
}

func (m *Manager) setCancelFlag(ctx context.Context, userID string, flag bool) (*Subscription, error) {
	sub, err := m.Repository.GetActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	ext, err := m.Billing.SetCancelAtPeriodEnd(ctx, sub.ExternalSubscriptionID, flag)
	if err != nil {
		m.Logger.Error("Unable to update cancellation flag on Stripe",
			zap.String("ExternalSubscriptionID", sub.ExternalSubscriptionID),
			zap.Bool("CancelAtPeriodEnd", flag),
			zap.Error(err),
		)
		return nil, fault.External(external.BillingService, err)
	}
	if ext.CancelAtPeriodEnd != flag {
		return nil, fault.External(external.BillingService, nil,
			"processor did not apply the cancellation flag")
	}

	if err := m.Repository.SetCancelAtPeriodEnd(ctx, sub.ID, flag); err != nil {
		return nil, err
	}
	sub.CancelAtPeriodEnd = flag
	return sub, nil
}

// ChangeTierInput describes a tier/interval move with a fresh addon selection
type ChangeTierInput struct {
	NewTierID       string
	Interval        tier.Interval
	AddonProductIDs []string
}

// ChangeTier swaps the subscription's price at the processor (prorated per
// processor default), then mirrors the tier and selections locally. A local
// failure after the successful swap is reported as a partial operation; the
// metadata stamped on the external subscription lets the next updated
// webhook repair the mismatch.
func (m *Manager) ChangeTier(ctx context.Context, userID string, input ChangeTierInput) (*Subscription, error) {
	sub, err := m.Repository.GetActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !input.Interval.Valid() {
		return nil, fault.Validation(fmt.Sprintf("interval must be %q or %q", tier.IntervalMonth, tier.IntervalYear))
	}
	t, err := m.TierRepository.GetByID(ctx, input.NewTierID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, fault.Validation("tier is not available")
	}
	if err := m.validateSelection(ctx, t, input.AddonProductIDs); err != nil {
		return nil, err
	}
	price, err := m.TierRepository.GetActivePrice(ctx, t.ID, input.Interval)
	if err != nil {
		return nil, err
	}

	ext, err := m.Billing.SwapSubscriptionPrice(ctx, sub.ExternalSubscriptionID, price.ExternalPriceID, map[string]string{
		MetaTierID:      t.ID,
		MetaTierPriceID: price.ID,
	})
	if err != nil {
		m.Logger.Error("Unable to swap subscription price on Stripe",
			zap.String("ExternalSubscriptionID", sub.ExternalSubscriptionID),
			zap.String("NewTierID", t.ID),
			zap.Error(err),
		)
		return nil, fault.External(external.BillingService, err)
	}

	if err := m.Repository.UpdateTierPrice(ctx, sub.ID, t.ID, price.ID); err != nil {
		partial := fault.Partial("change_tier", []string{StepPriceSwapped}, StepTierRowUpdated, err)
		m.Logger.Error("Tier change stopped partway",
			zap.String("SubscriptionID", sub.ID),
			zap.Strings("CompletedSteps", partial.CompletedSteps),
			zap.Error(err),
		)
		return nil, partial
	}

	if err := m.Repository.ReplaceAddonSelections(ctx, sub.ID, input.AddonProductIDs); err != nil {
		partial := fault.Partial("change_tier", []string{StepPriceSwapped, StepTierRowUpdated}, StepAddonsReplaced, err)
		m.Logger.Error("Tier change stopped partway",
			zap.String("SubscriptionID", sub.ID),
			zap.Strings("CompletedSteps", partial.CompletedSteps),
			zap.Error(err),
		)
		return nil, partial
	}

	// the swap may have moved the period; refresh from the returned record
	periodStart, periodEnd := periodFromStripe(ext)
	if err := m.Repository.UpdateLifecycle(ctx, sub.ExternalSubscriptionID, statusFromStripe(ext), periodStart, periodEnd, ext.CancelAtPeriodEnd); err != nil {
		m.Logger.Warn("Unable to refresh lifecycle after tier change, next webhook will self-heal",
			zap.String("ExternalSubscriptionID", sub.ExternalSubscriptionID),
			zap.Error(err),
		)
	}

	return m.Repository.GetByExternalID(ctx, sub.ExternalSubscriptionID)
}

// SwapAddons replaces the subscription's addon selections. Selections are
// not separately billed, so no processor call is involved.
func (m *Manager) SwapAddons(ctx context.Context, userID string, addonProductIDs []string) (*Subscription, error) {
	sub, err := m.Repository.GetActiveByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	t, err := m.TierRepository.GetByID(ctx, sub.TierID)
	if err != nil {
		return nil, err
	}
	if err := m.validateSelection(ctx, t, addonProductIDs); err != nil {
		return nil, err
	}
	if err := m.Repository.ReplaceAddonSelections(ctx, sub.ID, addonProductIDs); err != nil {
		return nil, err
	}
	return m.Repository.GetByExternalID(ctx, sub.ExternalSubscriptionID)
}
