package tier

import (
	"context"
	"errors"

	"github.com/mamazine/backend/fault"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repository is the data-access surface for tiers and their prices.
// Implementations translate store errors into the fault taxonomy.
type Repository interface {
	Create(ctx context.Context, t *Tier) error
	Save(ctx context.Context, t *Tier) error
	GetByID(ctx context.Context, id string) (*Tier, error)
	ListActive(ctx context.Context) ([]Tier, error)
	Deactivate(ctx context.Context, id string) error

	InsertPrices(ctx context.Context, prices []Price) error
	GetPriceByID(ctx context.Context, id string) (*Price, error)
	GetActivePrice(ctx context.Context, tierID string, interval Interval) (*Price, error)
	ListActivePrices(ctx context.Context, tierID string) ([]Price, error)
	DeactivatePrices(ctx context.Context, tierID string) error
	SwapActivePrice(ctx context.Context, newPrice *Price) error
}

type gormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository migrates the tier tables and returns the gorm-backed Repository
func NewRepository(logger *zap.Logger, db *gorm.DB) (Repository, error) {
	if err := db.AutoMigrate(&Tier{}, &Price{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize tier.Repository")
	}
	return &gormRepository{
		db:     db,
		logger: logger,
	}, nil
}

func (r *gormRepository) Create(ctx context.Context, t *Tier) error {
	result := r.db.WithContext(ctx).Create(t)
	if result.Error != nil {
		r.logger.Error("Unable to create new tier in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	return nil
}

func (r *gormRepository) Save(ctx context.Context, t *Tier) error {
	result := r.db.WithContext(ctx).Omit("Prices").Save(t)
	if result.Error != nil {
		r.logger.Error("Unable to save tier in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	return nil
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*Tier, error) {
	var t Tier
	result := r.db.WithContext(ctx).
		Preload("Prices").
		Where("id = ?", id).
		First(&t)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound("tier", id)
	}

	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}

	return &t, nil
}

func (r *gormRepository) ListActive(ctx context.Context) ([]Tier, error) {
	results := make([]Tier, 0, 4)
	result := r.db.WithContext(ctx).
		Preload("Prices", "is_active = ?", true).
		Order("created_at asc").
		Find(&results, "is_active = ?", true)
	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}
	return results, nil
}

func (r *gormRepository) Deactivate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&Tier{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		r.logger.Error("Unable to deactivate tier in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFound("tier", id)
	}
	return nil
}

func (r *gormRepository) InsertPrices(ctx context.Context, prices []Price) error {
	result := r.db.WithContext(ctx).Create(&prices)
	if result.Error != nil {
		r.logger.Error("Unable to insert tier prices in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	return nil
}

func (r *gormRepository) GetPriceByID(ctx context.Context, id string) (*Price, error) {
	var p Price
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&p)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound("tier price", id)
	}

	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}

	return &p, nil
}

func (r *gormRepository) GetActivePrice(ctx context.Context, tierID string, interval Interval) (*Price, error) {
	var p Price
	result := r.db.WithContext(ctx).
		Where("tier_id = ?", tierID).
		Where("billing_interval = ?", interval).
		Where("is_active = ?", true).
		First(&p)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound("tier price", tierID+"/"+string(interval))
	}

	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}

	return &p, nil
}

func (r *gormRepository) ListActivePrices(ctx context.Context, tierID string) ([]Price, error) {
	results := make([]Price, 0, 2)
	result := r.db.WithContext(ctx).
		Where("tier_id = ?", tierID).
		Where("is_active = ?", true).
		Find(&results)
	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}
	return results, nil
}

func (r *gormRepository) DeactivatePrices(ctx context.Context, tierID string) error {
	result := r.db.WithContext(ctx).
		Model(&Price{}).
		Where("tier_id = ?", tierID).
		Where("is_active = ?", true).
		Update("is_active", false)
	if result.Error != nil {
		r.logger.Error("Unable to deactivate tier prices in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	return nil
}

// SwapActivePrice deactivates the currently active price for the new price's
// (tier, interval) and inserts the new row in the same transaction, keeping
// at most one active price per interval at all times.
func (r *gormRepository) SwapActivePrice(ctx context.Context, newPrice *Price) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Price{}).
			Where("tier_id = ?", newPrice.TierID).
			Where("billing_interval = ?", newPrice.Interval).
			Where("is_active = ?", true).
			Update("is_active", false)
		if res.Error != nil {
			return res.Error
		}
		return tx.Create(newPrice).Error
	})
	if err != nil {
		r.logger.Error("Unable to swap active tier price in database",
			zap.Error(err),
		)
		return fault.Database(err)
	}
	return nil
}
