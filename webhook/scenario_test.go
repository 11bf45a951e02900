package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mamazine/backend/addon"
	"github.com/mamazine/backend/catalog"
	"github.com/mamazine/backend/external"
	"github.com/mamazine/backend/fault"
	"github.com/mamazine/backend/profile"
	"github.com/mamazine/backend/subscription"
	"github.com/mamazine/backend/tier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"go.uber.org/zap"
)

// scnBilling is a full in-memory processor: the catalog manager provisions
// products and prices on it, the subscription manager requests checkout
// sessions from it, and the webhook service verifies deliveries against it.
type scnBilling struct {
	mu       sync.Mutex
	seq      int
	products map[string]bool
	prices   map[string]bool
	subs     map[string]*stripe.Subscription

	lastCheckout *external.CheckoutSessionOptions
}

func newScnBilling() *scnBilling {
	return &scnBilling{
		products: make(map[string]bool),
		prices:   make(map[string]bool),
		subs:     make(map[string]*stripe.Subscription),
	}
}

func (b *scnBilling) nextID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s_scn_%d", prefix, b.seq)
}

func (b *scnBilling) CreateProduct(ctx context.Context, name, description string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID("prod")
	b.products[id] = true
	return id, nil
}

func (b *scnBilling) UpdateProduct(ctx context.Context, productID string, name, description string) error {
	return nil
}

func (b *scnBilling) SetProductActive(ctx context.Context, productID string, active bool) error {
	b.products[productID] = active
	return nil
}

func (b *scnBilling) CreatePrice(ctx context.Context, productID string, amount int64, currency, interval string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID("price")
	b.prices[id] = true
	return id, nil
}

func (b *scnBilling) SetPriceActive(ctx context.Context, priceID string, active bool) error {
	b.prices[priceID] = active
	return nil
}

func (b *scnBilling) CreateCheckoutSession(ctx context.Context, opt external.CheckoutSessionOptions) (*stripe.CheckoutSession, error) {
	b.lastCheckout = &opt
	return &stripe.CheckoutSession{
		ID:  b.nextID("cs"),
		URL: "https://checkout.example.com/session",
	}, nil
}

func (b *scnBilling) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	sub, ok := b.subs[subscriptionID]
	if !ok {
		return nil, errors.New("stripe: no such subscription")
	}
	out := *sub
	return &out, nil
}

func (b *scnBilling) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*stripe.Subscription, error) {
	sub, ok := b.subs[subscriptionID]
	if !ok {
		return nil, errors.New("stripe: no such subscription")
	}
	sub.CancelAtPeriodEnd = cancel
	out := *sub
	return &out, nil
}

func (b *scnBilling) SwapSubscriptionPrice(ctx context.Context, subscriptionID, newPriceID string, metadata map[string]string) (*stripe.Subscription, error) {
	sub, ok := b.subs[subscriptionID]
	if !ok {
		return nil, errors.New("stripe: no such subscription")
	}
	sub.Metadata = metadata
	out := *sub
	return &out, nil
}

func (b *scnBilling) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if sigHeader != testSignature {
		return stripe.Event{}, errors.New("webhook: invalid signature")
	}
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return stripe.Event{}, err
	}
	return event, nil
}

type scnTierRepo struct {
	tiers  map[string]tier.Tier
	prices map[string]tier.Price
}

func newScnTierRepo() *scnTierRepo {
	return &scnTierRepo{
		tiers:  make(map[string]tier.Tier),
		prices: make(map[string]tier.Price),
	}
}

func (m *scnTierRepo) Create(ctx context.Context, t *tier.Tier) error {
	m.tiers[t.ID] = *t
	return nil
}

func (m *scnTierRepo) Save(ctx context.Context, t *tier.Tier) error {
	saved := *t
	saved.Prices = nil
	m.tiers[t.ID] = saved
	return nil
}

func (m *scnTierRepo) GetByID(ctx context.Context, id string) (*tier.Tier, error) {
	t, ok := m.tiers[id]
	if !ok {
		return nil, fault.NotFound("tier", id)
	}
	out := t
	out.Prices = nil
	for _, p := range m.prices {
		if p.TierID == id {
			out.Prices = append(out.Prices, p)
		}
	}
	return &out, nil
}

func (m *scnTierRepo) ListActive(ctx context.Context) ([]tier.Tier, error) {
	out := make([]tier.Tier, 0, len(m.tiers))
	for id, t := range m.tiers {
		if t.IsActive {
			loaded, _ := m.GetByID(ctx, id)
			out = append(out, *loaded)
		}
	}
	return out, nil
}

func (m *scnTierRepo) Deactivate(ctx context.Context, id string) error {
	t, ok := m.tiers[id]
	if !ok {
		return fault.NotFound("tier", id)
	}
	t.IsActive = false
	m.tiers[id] = t
	return nil
}

func (m *scnTierRepo) InsertPrices(ctx context.Context, prices []tier.Price) error {
	for _, p := range prices {
		m.prices[p.ID] = p
	}
	return nil
}

func (m *scnTierRepo) GetPriceByID(ctx context.Context, id string) (*tier.Price, error) {
	p, ok := m.prices[id]
	if !ok {
		return nil, fault.NotFound("tier price", id)
	}
	return &p, nil
}

func (m *scnTierRepo) GetActivePrice(ctx context.Context, tierID string, interval tier.Interval) (*tier.Price, error) {
	for _, p := range m.prices {
		if p.TierID == tierID && p.Interval == interval && p.IsActive {
			out := p
			return &out, nil
		}
	}
	return nil, fault.NotFound("tier price", tierID+"/"+string(interval))
}

func (m *scnTierRepo) ListActivePrices(ctx context.Context, tierID string) ([]tier.Price, error) {
	out := make([]tier.Price, 0, 2)
	for _, p := range m.prices {
		if p.TierID == tierID && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *scnTierRepo) DeactivatePrices(ctx context.Context, tierID string) error {
	for id, p := range m.prices {
		if p.TierID == tierID {
			p.IsActive = false
			m.prices[id] = p
		}
	}
	return nil
}

func (m *scnTierRepo) SwapActivePrice(ctx context.Context, newPrice *tier.Price) error {
	for id, p := range m.prices {
		if p.TierID == newPrice.TierID && p.Interval == newPrice.Interval && p.IsActive {
			p.IsActive = false
			m.prices[id] = p
		}
	}
	m.prices[newPrice.ID] = *newPrice
	return nil
}

type scnAddonRepo struct {
	products map[string]addon.Product
}

func newScnAddonRepo() *scnAddonRepo {
	return &scnAddonRepo{products: make(map[string]addon.Product)}
}

func (m *scnAddonRepo) Create(ctx context.Context, p *addon.Product) error {
	m.products[p.ID] = *p
	return nil
}

func (m *scnAddonRepo) Save(ctx context.Context, p *addon.Product) error {
	m.products[p.ID] = *p
	return nil
}

func (m *scnAddonRepo) GetByID(ctx context.Context, id string) (*addon.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, fault.NotFound("addon product", id)
	}
	return &p, nil
}

func (m *scnAddonRepo) GetActiveByIDs(ctx context.Context, ids []string) ([]addon.Product, error) {
	out := make([]addon.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := m.products[id]; ok && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *scnAddonRepo) ListActive(ctx context.Context) ([]addon.Product, error) {
	out := make([]addon.Product, 0, len(m.products))
	for _, p := range m.products {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *scnAddonRepo) Deactivate(ctx context.Context, id string) error {
	p, ok := m.products[id]
	if !ok {
		return fault.NotFound("addon product", id)
	}
	p.IsActive = false
	m.products[id] = p
	return nil
}

type scnProfileRepo struct {
	profiles map[string]*profile.Profile
}

func newScnProfileRepo() *scnProfileRepo {
	return &scnProfileRepo{profiles: make(map[string]*profile.Profile)}
}

func (m *scnProfileRepo) Create(ctx context.Context, p *profile.Profile) error {
	stored := *p
	m.profiles[p.ID] = &stored
	return nil
}

func (m *scnProfileRepo) Save(ctx context.Context, p *profile.Profile) error {
	stored := *p
	m.profiles[p.ID] = &stored
	return nil
}

func (m *scnProfileRepo) GetByID(ctx context.Context, id string) (*profile.Profile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return nil, fault.NotFound("profile", id)
	}
	out := *p
	return &out, nil
}

func (m *scnProfileRepo) GetByStripeCustomerID(ctx context.Context, customerID string) (*profile.Profile, error) {
	for _, p := range m.profiles {
		if p.StripeCustomerID == customerID {
			out := *p
			return &out, nil
		}
	}
	return nil, fault.NotFound("profile", customerID)
}

func (m *scnProfileRepo) GetByEmail(ctx context.Context, email string) (*profile.Profile, error) {
	for _, p := range m.profiles {
		if p.Email == email {
			out := *p
			return &out, nil
		}
	}
	return nil, fault.NotFound("profile", email)
}

type scnSubRepo struct {
	subs map[string]*subscription.Subscription
}

func newScnSubRepo() *scnSubRepo {
	return &scnSubRepo{subs: make(map[string]*subscription.Subscription)}
}

func scnCopySub(s *subscription.Subscription) *subscription.Subscription {
	out := *s
	out.AddonSelections = append([]subscription.AddonSelection(nil), s.AddonSelections...)
	return &out
}

func (m *scnSubRepo) Create(ctx context.Context, s *subscription.Subscription) error {
	if _, ok := m.subs[s.ExternalSubscriptionID]; ok {
		return fault.Database(fmt.Errorf("duplicate key value violates unique constraint"))
	}
	stored := scnCopySub(s)
	stored.CreatedAt = time.Now()
	m.subs[s.ExternalSubscriptionID] = stored
	return nil
}

func (m *scnSubRepo) GetByExternalID(ctx context.Context, externalID string) (*subscription.Subscription, error) {
	s, ok := m.subs[externalID]
	if !ok {
		return nil, fault.NotFound("subscription", externalID)
	}
	return scnCopySub(s), nil
}

func (m *scnSubRepo) GetActiveByUserID(ctx context.Context, userID string) (*subscription.Subscription, error) {
	for _, s := range m.subs {
		if s.UserID == userID && s.Status.InActiveFamily() {
			return scnCopySub(s), nil
		}
	}
	return nil, fault.NotFound("subscription", userID)
}

func (m *scnSubRepo) GetLatestByUserID(ctx context.Context, userID string) (*subscription.Subscription, error) {
	matches := make([]*subscription.Subscription, 0, 1)
	for _, s := range m.subs {
		if s.UserID == userID {
			matches = append(matches, s)
		}
	}
	if len(matches) == 0 {
		return nil, fault.NotFound("subscription", userID)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return scnCopySub(matches[0]), nil
}

func (m *scnSubRepo) UpdateLifecycle(ctx context.Context, externalID string, status subscription.Status, periodStart, periodEnd time.Time, cancelAtPeriodEnd bool) error {
	s, ok := m.subs[externalID]
	if !ok {
		return fault.NotFound("subscription", externalID)
	}
	s.Status = status
	s.CurrentPeriodStart = periodStart
	s.CurrentPeriodEnd = periodEnd
	s.CancelAtPeriodEnd = cancelAtPeriodEnd
	return nil
}

func (m *scnSubRepo) SetStatus(ctx context.Context, externalID string, status subscription.Status) error {
	s, ok := m.subs[externalID]
	if !ok {
		return fault.NotFound("subscription", externalID)
	}
	s.Status = status
	return nil
}

func (m *scnSubRepo) byInternalID(id string) *subscription.Subscription {
	for _, s := range m.subs {
		if s.ID == id {
			return s
		}
	}
	return nil
}

func (m *scnSubRepo) SetCancelAtPeriodEnd(ctx context.Context, id string, flag bool) error {
	s := m.byInternalID(id)
	if s == nil {
		return fault.NotFound("subscription", id)
	}
	s.CancelAtPeriodEnd = flag
	return nil
}

func (m *scnSubRepo) UpdateTierPrice(ctx context.Context, id, tierID, tierPriceID string) error {
	s := m.byInternalID(id)
	if s == nil {
		return fault.NotFound("subscription", id)
	}
	s.TierID = tierID
	s.TierPriceID = tierPriceID
	return nil
}

func (m *scnSubRepo) ReplaceAddonSelections(ctx context.Context, subscriptionID string, addonProductIDs []string) error {
	s := m.byInternalID(subscriptionID)
	if s == nil {
		return fault.NotFound("subscription", subscriptionID)
	}
	selections := make([]subscription.AddonSelection, 0, len(addonProductIDs))
	for _, addonID := range addonProductIDs {
		selections = append(selections, subscription.AddonSelection{
			SubscriptionID: subscriptionID,
			AddonProductID: addonID,
		})
	}
	s.AddonSelections = selections
	return nil
}

// TestSubscribeAndCancelEndToEnd walks a reader through the whole life of a
// subscription: the publisher launches a tier and an add-on, the reader
// starts a checkout, the processor confirms it over the webhook, and months
// later the processor reports the subscription gone. Every hop runs through
// the same components production wires together, only the stores and the
// processor are in memory.
func TestSubscribeAndCancelEndToEnd(t *testing.T) {
	ctx := context.Background()
	billing := newScnBilling()
	tiers := newScnTierRepo()
	addons := newScnAddonRepo()
	profiles := newScnProfileRepo()
	subs := newScnSubRepo()

	catalogManager, err := catalog.NewManager(catalog.ManagerOptions{
		TierRepository:  tiers,
		AddonRepository: addons,
		Billing:         billing,
		Logger:          zap.NewNop(),
	})
	require.NoError(t, err)

	subscriptionManager, err := subscription.NewManager(subscription.ManagerOptions{
		Repository:        subs,
		ProfileRepository: profiles,
		TierRepository:    tiers,
		AddonRepository:   addons,
		Billing:           billing,
		Logger:            zap.NewNop(),
		Checkout: subscription.CheckoutPolicy{
			CollectShipping:   true,
			AllowedCountries:  []string{"US"},
			CollectPromoOptIn: true,
		},
	})
	require.NoError(t, err)

	service, err := NewService(ServiceOptions{
		SubscriptionHandler: subscriptionManager,
		Billing:             billing,
		Logger:              zap.NewNop(),
	})
	require.NoError(t, err)

	// the publisher launches the catalog
	launched, err := catalogManager.CreateTier(ctx, catalog.CreateTierInput{
		Name:          "Print + Digital",
		Description:   "Every issue in print and on the web",
		AddonSlots:    2,
		MonthlyAmount: 900,
		AnnualAmount:  9000,
		Currency:      "usd",
	})
	require.NoError(t, err)

	supplement, err := catalogManager.CreateAddon(ctx, catalog.AddonInput{
		Name: "Crossword Supplement",
	})
	require.NoError(t, err)

	// the reader picks the monthly plan with one add-on
	session, err := subscriptionManager.CreateCheckoutSession(ctx, subscription.CheckoutInput{
		TierID:          launched.ID,
		Interval:        tier.IntervalMonth,
		AddonProductIDs: []string{supplement.ID},
		SuccessURL:      "https://mamazine.example.com/welcome",
		CancelURL:       "https://mamazine.example.com/plans",
		CustomerEmail:   "reader@example.com",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, session.URL)
	require.NotNil(t, billing.lastCheckout)

	// the processor runs the checkout and creates its subscription
	billing.subs["sub_ext_scn"] = &stripe.Subscription{
		ID:                 "sub_ext_scn",
		Status:             stripe.SubscriptionStatusActive,
		CurrentPeriodStart: 1700000000,
		CurrentPeriodEnd:   1702592000,
	}

	w := deliver(t, service, "evt_scn_1", "checkout.session.completed", map[string]interface{}{
		"id":           session.SessionID,
		"mode":         "subscription",
		"subscription": "sub_ext_scn",
		"customer":     "cus_scn",
		"customer_details": map[string]interface{}{
			"email": "reader@example.com",
			"name":  "Alex Reader",
		},
		"metadata": billing.lastCheckout.Metadata,
		"shipping": map[string]interface{}{
			"name": "Alex Reader",
			"address": map[string]interface{}{
				"line1":       "1 Main St",
				"city":        "Portland",
				"state":       "OR",
				"postal_code": "97201",
				"country":     "US",
			},
		},
		"consent": map[string]interface{}{
			"promotions": "opt_in",
		},
	}, testSignature)
	require.Equal(t, http.StatusOK, w.Code)

	// the reader's profile was provisioned and the subscription is live
	prof, err := profiles.GetByStripeCustomerID(ctx, "cus_scn")
	require.NoError(t, err)
	assert.Equal(t, "Portland", prof.ShippingAddress.City)
	assert.True(t, prof.MarketingOptIn)

	active, err := subscriptionManager.GetByUserID(ctx, prof.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusActive, active.Status)
	assert.Equal(t, launched.ID, active.TierID)
	assert.Equal(t, time.Unix(1700000000, 0), active.CurrentPeriodStart)
	require.Len(t, active.AddonSelections, 1)
	assert.Equal(t, supplement.ID, active.AddonSelections[0].AddonProductID)

	monthly, err := tiers.GetActivePrice(ctx, launched.ID, tier.IntervalMonth)
	require.NoError(t, err)
	assert.Equal(t, monthly.ID, active.TierPriceID)

	// re-delivery of the completion changes nothing
	w = deliver(t, service, "evt_scn_1", "checkout.session.completed", map[string]interface{}{
		"id":           session.SessionID,
		"mode":         "subscription",
		"subscription": "sub_ext_scn",
		"customer":     "cus_scn",
		"metadata":     billing.lastCheckout.Metadata,
	}, testSignature)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, subs.subs, 1)

	// months later the processor reports the subscription gone
	w = deliver(t, service, "evt_scn_2", "customer.subscription.deleted", map[string]interface{}{
		"id": "sub_ext_scn",
	}, testSignature)
	require.Equal(t, http.StatusOK, w.Code)

	ended, err := subscriptionManager.GetByUserID(ctx, prof.ID)
	require.NoError(t, err)
	assert.Equal(t, subscription.StatusCanceled, ended.Status)
	// the tier reference survives cancellation for billing history
	assert.Equal(t, launched.ID, ended.TierID)
	assert.Equal(t, monthly.ID, ended.TierPriceID)
}
