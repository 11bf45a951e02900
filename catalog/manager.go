package catalog

import (
	"context"
	"fmt"

	"github.com/mamazine/backend/addon"
	"github.com/mamazine/backend/external"
	"github.com/mamazine/backend/fault"
	"github.com/mamazine/backend/tier"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ManagerOptions contains the configuration for Manager
type ManagerOptions struct {
	TierRepository  tier.Repository
	AddonRepository addon.Repository
	Billing         external.Billing
	Logger          *zap.Logger
}

// Manager mirrors the tier catalog between the local database and the
// payment processor. Tier mutations run a fixed sequence of external and
// local steps; when a step fails the error reports which steps completed
// so an operator can reconcile by hand instead of guessing.
type Manager struct {
	ManagerOptions
}

// NewManager returns a new Manager for catalog administration
func NewManager(option ManagerOptions) (*Manager, error) {
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

// CreateTierInput describes a new tier and its two launch prices
type CreateTierInput struct {
	Name          string
	Description   string
	AddonSlots    int
	MonthlyAmount int64
	AnnualAmount  int64
	Currency      string
}

func (i CreateTierInput) validate() error {
	messages := make([]string, 0, 4)
	if len(i.Name) == 0 {
		messages = append(messages, "name is required")
	}
	if i.AddonSlots < 0 {
		messages = append(messages, "addon slots cannot be negative")
	}
	if i.MonthlyAmount <= 0 || i.AnnualAmount <= 0 {
		messages = append(messages, "price amounts must be positive")
	}
	if len(i.Currency) == 0 {
		messages = append(messages, "currency is required")
	}
	if len(messages) > 0 {
		return fault.Validation(messages...)
	}
	return nil
}

type priceResult struct {
	interval   tier.Interval
	externalID string
	err        error
}

// CreateTier provisions a tier on the processor and mirrors it locally:
// create the product, insert the tier row, create the monthly and annual
// prices, insert the price rows. The two external prices are created
// concurrently. A failure at any step surfaces as a partial operation
// naming the steps that already completed.
func (m *Manager) CreateTier(ctx context.Context, input CreateTierInput) (*tier.Tier, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}

	productID, err := m.Billing.CreateProduct(ctx, input.Name, input.Description)
	if err != nil {
		return nil, fault.Partial(OpCreateTier, nil, StepProductCreated,
			fault.External(external.BillingService, err))
	}

	t := &tier.Tier{
		ID:                uuid.New().String(),
		ExternalProductID: productID,
		Name:              input.Name,
		Description:       input.Description,
		AddonSlots:        input.AddonSlots,
		IsActive:          true,
	}
	if err := m.TierRepository.Create(ctx, t); err != nil {
		return nil, fault.Partial(OpCreateTier,
			[]string{StepProductCreated},
			StepTierRowInserted, err)
	}

	amounts := map[tier.Interval]int64{
		tier.IntervalMonth: input.MonthlyAmount,
		tier.IntervalYear:  input.AnnualAmount,
	}
	results := make(chan priceResult, len(amounts))
	for interval, amount := range amounts {
		go func(interval tier.Interval, amount int64) {
			externalID, err := m.Billing.CreatePrice(ctx, productID, amount, input.Currency, string(interval))
			results <- priceResult{
				interval:   interval,
				externalID: externalID,
				err:        err,
			}
		}(interval, amount)
	}

	externalIDs := make(map[tier.Interval]string, len(amounts))
	var priceErr error
	for range amounts {
		res := <-results
		if res.err != nil {
			m.Logger.Error("Unable to create price on billing processor",
				zap.String("ProductID", productID),
				zap.String("Interval", string(res.interval)),
				zap.Error(res.err),
			)
			priceErr = res.err
			continue
		}
		externalIDs[res.interval] = res.externalID
	}
	if priceErr != nil {
		return nil, fault.Partial(OpCreateTier,
			[]string{StepProductCreated, StepTierRowInserted},
			StepPricesCreated,
			fault.External(external.BillingService, priceErr))
	}

	prices := make([]tier.Price, 0, len(amounts))
	for interval, amount := range amounts {
		prices = append(prices, tier.Price{
			ID:              uuid.New().String(),
			TierID:          t.ID,
			ExternalPriceID: externalIDs[interval],
			Amount:          amount,
			Currency:        input.Currency,
			Interval:        interval,
			IsActive:        true,
		})
	}
	if err := m.TierRepository.InsertPrices(ctx, prices); err != nil {
		return nil, fault.Partial(OpCreateTier,
			[]string{StepProductCreated, StepTierRowInserted, StepPricesCreated},
			StepPriceRowsInserted, err)
	}

	m.Logger.Info("Tier created",
		zap.String("TierID", t.ID),
		zap.String("ExternalProductID", productID),
	)

	return m.TierRepository.GetByID(ctx, t.ID)
}

// UpdateTierInput carries the mutable fields of a tier. Prices are not
// among them; repricing goes through AddTierPrice.
type UpdateTierInput struct {
	Name        string
	Description string
	AddonSlots  int
}

// UpdateTier pushes the new name/description to the processor first, then
// mirrors all fields locally. When the local write fails after the external
// one succeeded the error reports the split.
func (m *Manager) UpdateTier(ctx context.Context, id string, input UpdateTierInput) (*tier.Tier, error) {
	if len(input.Name) == 0 {
		return nil, fault.Validation("name is required")
	}
	if input.AddonSlots < 0 {
		return nil, fault.Validation("addon slots cannot be negative")
	}

	t, err := m.TierRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := m.Billing.UpdateProduct(ctx, t.ExternalProductID, input.Name, input.Description); err != nil {
		return nil, fault.External(external.BillingService, err)
	}

	t.Name = input.Name
	t.Description = input.Description
	t.AddonSlots = input.AddonSlots
	if err := m.TierRepository.Save(ctx, t); err != nil {
		return nil, fault.Partial(OpUpdateTier,
			[]string{StepProductUpdated},
			StepTierRowUpdated, err)
	}

	return m.TierRepository.GetByID(ctx, t.ID)
}

// AddPriceInput describes a replacement price for one billing interval
type AddPriceInput struct {
	Interval tier.Interval
	Amount   int64
	Currency string
}

// AddTierPrice reprices one interval of a tier. Price amounts are immutable
// on the processor, so repricing means issuing a new price, archiving the
// prior one, and swapping the local rows so exactly one stays active per
// interval. Existing subscriptions keep billing on the price they hold.
func (m *Manager) AddTierPrice(ctx context.Context, tierID string, input AddPriceInput) (*tier.Price, error) {
	if !input.Interval.Valid() {
		return nil, fault.Validation(fmt.Sprintf("interval must be %q or %q", tier.IntervalMonth, tier.IntervalYear))
	}
	if input.Amount <= 0 {
		return nil, fault.Validation("price amount must be positive")
	}
	if len(input.Currency) == 0 {
		return nil, fault.Validation("currency is required")
	}

	t, err := m.TierRepository.GetByID(ctx, tierID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, fault.Validation("tier is not available")
	}

	prior, err := m.TierRepository.GetActivePrice(ctx, tierID, input.Interval)
	if err != nil && !fault.IsNotFound(err) {
		return nil, err
	}

	externalID, err := m.Billing.CreatePrice(ctx, t.ExternalProductID, input.Amount, input.Currency, string(input.Interval))
	if err != nil {
		return nil, fault.Partial(OpAddTierPrice, nil, StepPriceCreated,
			fault.External(external.BillingService, err))
	}

	completed := []string{StepPriceCreated}
	if prior != nil {
		if err := m.Billing.SetPriceActive(ctx, prior.ExternalPriceID, false); err != nil {
			return nil, fault.Partial(OpAddTierPrice, completed, StepPriorPriceArchived,
				fault.External(external.BillingService, err))
		}
		completed = append(completed, StepPriorPriceArchived)
	}

	newPrice := &tier.Price{
		ID:              uuid.New().String(),
		TierID:          tierID,
		ExternalPriceID: externalID,
		Amount:          input.Amount,
		Currency:        input.Currency,
		Interval:        input.Interval,
		IsActive:        true,
	}
	if err := m.TierRepository.SwapActivePrice(ctx, newPrice); err != nil {
		return nil, fault.Partial(OpAddTierPrice, completed, StepPriceRowsSwapped, err)
	}

	m.Logger.Info("Tier repriced",
		zap.String("TierID", tierID),
		zap.String("Interval", string(input.Interval)),
		zap.Int64("Amount", input.Amount),
	)

	return newPrice, nil
}

// DeactivateTier retires a tier from sale, unwinding the creation protocol
// in reverse: archive the product, archive its prices, deactivate the local
// price rows, deactivate the tier row. Rows are never deleted; existing
// subscriptions on the tier keep renewing until they cancel.
func (m *Manager) DeactivateTier(ctx context.Context, id string) error {
	t, err := m.TierRepository.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if err := m.Billing.SetProductActive(ctx, t.ExternalProductID, false); err != nil {
		return fault.Partial(OpDeactivateTier, nil, StepProductArchived,
			fault.External(external.BillingService, err))
	}

	prices, err := m.TierRepository.ListActivePrices(ctx, id)
	if err != nil {
		return fault.Partial(OpDeactivateTier,
			[]string{StepProductArchived},
			StepPricesArchived, err)
	}
	for _, p := range prices {
		if err := m.Billing.SetPriceActive(ctx, p.ExternalPriceID, false); err != nil {
			return fault.Partial(OpDeactivateTier,
				[]string{StepProductArchived},
				StepPricesArchived,
				fault.External(external.BillingService, err))
		}
	}

	if err := m.TierRepository.DeactivatePrices(ctx, id); err != nil {
		return fault.Partial(OpDeactivateTier,
			[]string{StepProductArchived, StepPricesArchived},
			StepPriceRowsDeactivated, err)
	}

	if err := m.TierRepository.Deactivate(ctx, id); err != nil {
		return fault.Partial(OpDeactivateTier,
			[]string{StepProductArchived, StepPricesArchived, StepPriceRowsDeactivated},
			StepTierRowDeactivated, err)
	}

	m.Logger.Info("Tier deactivated",
		zap.String("TierID", id),
	)

	return nil
}

// GetTier returns a tier with all of its price rows, active or not
func (m *Manager) GetTier(ctx context.Context, id string) (*tier.Tier, error) {
	return m.TierRepository.GetByID(ctx, id)
}

// ListTiers returns the tiers currently offered for sale, each with only
// its active prices
func (m *Manager) ListTiers(ctx context.Context) ([]tier.Tier, error) {
	return m.TierRepository.ListActive(ctx)
}

// AddonInput carries the fields of an add-on product
type AddonInput struct {
	Name        string
	Description string
}

// CreateAddon registers a new add-on product. Add-ons are bundled into
// tier pricing and never provisioned on the processor, so this is a plain
// local insert.
func (m *Manager) CreateAddon(ctx context.Context, input AddonInput) (*addon.Product, error) {
	if len(input.Name) == 0 {
		return nil, fault.Validation("name is required")
	}
	p := &addon.Product{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Description: input.Description,
		IsActive:    true,
	}
	if err := m.AddonRepository.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateAddon changes an add-on product's name and description
func (m *Manager) UpdateAddon(ctx context.Context, id string, input AddonInput) (*addon.Product, error) {
	if len(input.Name) == 0 {
		return nil, fault.Validation("name is required")
	}
	p, err := m.AddonRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name = input.Name
	p.Description = input.Description
	if err := m.AddonRepository.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// DeactivateAddon retires an add-on from new selection. Existing
// subscriptions keep their selection rows.
func (m *Manager) DeactivateAddon(ctx context.Context, id string) error {
	return m.AddonRepository.Deactivate(ctx, id)
}

// ListAddons returns the add-on products currently selectable
func (m *Manager) ListAddons(ctx context.Context) ([]addon.Product, error) {
	return m.AddonRepository.ListActive(ctx)
}
