package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mamazine/backend/fault"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repository is the data-access surface for subscriptions and their add-on
// selections. The subscription manager is the only writer.
type Repository interface {
	Create(ctx context.Context, s *Subscription) error
	GetByExternalID(ctx context.Context, externalID string) (*Subscription, error)
	GetActiveByUserID(ctx context.Context, userID string) (*Subscription, error)
	GetLatestByUserID(ctx context.Context, userID string) (*Subscription, error)
	UpdateLifecycle(ctx context.Context, externalID string, status Status, periodStart, periodEnd time.Time, cancelAtPeriodEnd bool) error
	SetStatus(ctx context.Context, externalID string, status Status) error
	SetCancelAtPeriodEnd(ctx context.Context, id string, flag bool) error
	UpdateTierPrice(ctx context.Context, id, tierID, tierPriceID string) error
	ReplaceAddonSelections(ctx context.Context, subscriptionID string, addonProductIDs []string) error
}

type gormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository migrates the subscription tables and returns the gorm-backed
// Repository. A partial unique index backs the one-active-subscription-per-user
// invariant so concurrent checkout completions cannot violate it.
func NewRepository(logger *zap.Logger, db *gorm.DB) (Repository, error) {
	if err := db.AutoMigrate(&Subscription{}, &AddonSelection{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize subscription.Repository")
	}
	if err := db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_one_active_per_user
		 ON subscriptions (user_id)
		 WHERE status IN ('active', 'trialing', 'past_due')`,
	).Error; err != nil {
		return nil, extErrors.Wrap(err, "Cannot create one-active-per-user index")
	}
	return &gormRepository{
		db:     db,
		logger: logger,
	}, nil
}

// Create inserts the subscription and its selections in one transaction
func (r *gormRepository) Create(ctx context.Context, s *Subscription) error {
	result := r.db.WithContext(ctx).Create(s)
	if result.Error != nil {
		r.logger.Error("Unable to create new subscription in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	return nil
}

func (r *gormRepository) GetByExternalID(ctx context.Context, externalID string) (*Subscription, error) {
	var sub Subscription
	result := r.db.WithContext(ctx).
		Preload("AddonSelections").
		Where("external_subscription_id = ?", externalID).
		First(&sub)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound("subscription", externalID)
	}

	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}

	return &sub, nil
}

// GetActiveByUserID returns the user's single active-family subscription.
// Finding more than one means the store invariant is broken; that is
// reported loudly instead of silently picking one.
func (r *gormRepository) GetActiveByUserID(ctx context.Context, userID string) (*Subscription, error) {
	results := make([]Subscription, 0, 1)
	result := r.db.WithContext(ctx).
		Preload("AddonSelections").
		Where("user_id = ?", userID).
		Where("status IN ?", activeFamily).
		Limit(2).
		Find(&results)

	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}

	switch len(results) {
	case 0:
		return nil, fault.NotFound("subscription", userID)
	case 1:
		return &results[0], nil
	default:
		r.logger.Error("More than one active subscription for user",
			zap.String("UserID", userID),
		)
		return nil, fault.Database(fmt.Errorf("user %s has more than one active subscription", userID))
	}
}

func (r *gormRepository) GetLatestByUserID(ctx context.Context, userID string) (*Subscription, error) {
	var sub Subscription
	result := r.db.WithContext(ctx).
		Preload("AddonSelections").
		Where("user_id = ?", userID).
		Order("created_at desc").
		First(&sub)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound("subscription", userID)
	}

	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}

	return &sub, nil
}

// UpdateLifecycle overwrites the processor-owned fields with the external
// record's current values. Applying the same update twice yields the same
// state, which keeps webhook re-delivery safe.
func (r *gormRepository) UpdateLifecycle(ctx context.Context, externalID string, status Status, periodStart, periodEnd time.Time, cancelAtPeriodEnd bool) error {
	result := r.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("external_subscription_id = ?", externalID).
		Updates(map[string]interface{}{
			"status":               status,
			"current_period_start": periodStart,
			"current_period_end":   periodEnd,
			"cancel_at_period_end": cancelAtPeriodEnd,
		})
	if result.Error != nil {
		r.logger.Error("Unable to update subscription lifecycle in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFound("subscription", externalID)
	}
	return nil
}

func (r *gormRepository) SetStatus(ctx context.Context, externalID string, status Status) error {
	result := r.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("external_subscription_id = ?", externalID).
		Update("status", status)
	if result.Error != nil {
		r.logger.Error("Unable to update subscription status in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFound("subscription", externalID)
	}
	return nil
}

func (r *gormRepository) SetCancelAtPeriodEnd(ctx context.Context, id string, flag bool) error {
	result := r.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ?", id).
		Update("cancel_at_period_end", flag)
	if result.Error != nil {
		r.logger.Error("Unable to update cancel_at_period_end in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFound("subscription", id)
	}
	return nil
}

func (r *gormRepository) UpdateTierPrice(ctx context.Context, id, tierID, tierPriceID string) error {
	result := r.db.WithContext(ctx).
		Model(&Subscription{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"tier_id":       tierID,
			"tier_price_id": tierPriceID,
		})
	if result.Error != nil {
		r.logger.Error("Unable to update subscription tier in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFound("subscription", id)
	}
	return nil
}

// ReplaceAddonSelections deletes all existing selection rows for the
// subscription and inserts the new set in one transaction
func (r *gormRepository) ReplaceAddonSelections(ctx context.Context, subscriptionID string, addonProductIDs []string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id = ?", subscriptionID).Delete(&AddonSelection{}).Error; err != nil {
			return err
		}
		if len(addonProductIDs) == 0 {
			return nil
		}
		selections := make([]AddonSelection, 0, len(addonProductIDs))
		for _, addonID := range addonProductIDs {
			selections = append(selections, AddonSelection{
				SubscriptionID: subscriptionID,
				AddonProductID: addonID,
			})
		}
		return tx.Create(&selections).Error
	})
	if err != nil {
		r.logger.Error("Unable to replace addon selections in database",
			zap.Error(err),
		)
		return fault.Database(err)
	}
	return nil
}
