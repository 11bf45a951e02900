package addon

import (
	"context"
	"errors"

	"github.com/mamazine/backend/fault"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repository is the data-access surface for add-on products
type Repository interface {
	Create(ctx context.Context, p *Product) error
	Save(ctx context.Context, p *Product) error
	GetByID(ctx context.Context, id string) (*Product, error)
	GetActiveByIDs(ctx context.Context, ids []string) ([]Product, error)
	ListActive(ctx context.Context) ([]Product, error)
	Deactivate(ctx context.Context, id string) error
}

type gormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository migrates the add-on table and returns the gorm-backed Repository
func NewRepository(logger *zap.Logger, db *gorm.DB) (Repository, error) {
	if err := db.AutoMigrate(&Product{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize addon.Repository")
	}
	return &gormRepository{
		db:     db,
		logger: logger,
	}, nil
}

func (r *gormRepository) Create(ctx context.Context, p *Product) error {
	result := r.db.WithContext(ctx).Create(p)
	if result.Error != nil {
		r.logger.Error("Unable to create new addon product in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	return nil
}

func (r *gormRepository) Save(ctx context.Context, p *Product) error {
	result := r.db.WithContext(ctx).Save(p)
	if result.Error != nil {
		r.logger.Error("Unable to save addon product in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	return nil
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*Product, error) {
	var p Product
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&p)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound("addon product", id)
	}

	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}

	return &p, nil
}

func (r *gormRepository) GetActiveByIDs(ctx context.Context, ids []string) ([]Product, error) {
	results := make([]Product, 0, len(ids))
	if len(ids) == 0 {
		return results, nil
	}
	result := r.db.WithContext(ctx).
		Where("id IN ?", ids).
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

func (r *gormRepository) ListActive(ctx context.Context) ([]Product, error) {
	results := make([]Product, 0, 4)
	result := r.db.WithContext(ctx).
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
		Model(&Product{}).
		Where("id = ?", id).
		Update("is_active", false)
	if result.Error != nil {
		r.logger.Error("Unable to deactivate addon product in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	if result.RowsAffected == 0 {
		return fault.NotFound("addon product", id)
	}
	return nil
}
