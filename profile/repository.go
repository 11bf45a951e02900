package profile

import (
	"context"
	"errors"

	"github.com/mamazine/backend/fault"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repository is the data-access surface for profiles
type Repository interface {
	Create(ctx context.Context, p *Profile) error
	Save(ctx context.Context, p *Profile) error
	GetByID(ctx context.Context, id string) (*Profile, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*Profile, error)
	GetByEmail(ctx context.Context, email string) (*Profile, error)
}

type gormRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRepository migrates the profile table and returns the gorm-backed Repository
func NewRepository(logger *zap.Logger, db *gorm.DB) (Repository, error) {
	if err := db.AutoMigrate(&Profile{}); err != nil {
		return nil, extErrors.Wrap(err, "Cannot initialize profile.Repository")
	}
	return &gormRepository{
		db:     db,
		logger: logger,
	}, nil
}

func (r *gormRepository) Create(ctx context.Context, p *Profile) error {
	result := r.db.WithContext(ctx).Create(p)
	if result.Error != nil {
		r.logger.Error("Unable to create new profile in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	return nil
}

func (r *gormRepository) Save(ctx context.Context, p *Profile) error {
	result := r.db.WithContext(ctx).Save(p)
	if result.Error != nil {
		r.logger.Error("Unable to save profile in database",
			zap.Error(result.Error),
		)
		return fault.Database(result.Error)
	}
	return nil
}

func (r *gormRepository) GetByID(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	result := r.db.WithContext(ctx).Where("id = ?", id).First(&p)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound("profile", id)
	}

	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}

	return &p, nil
}

func (r *gormRepository) GetByStripeCustomerID(ctx context.Context, customerID string) (*Profile, error) {
	var p Profile
	result := r.db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&p)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound("profile", customerID)
	}

	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}

	return &p, nil
}

func (r *gormRepository) GetByEmail(ctx context.Context, email string) (*Profile, error) {
	var p Profile
	result := r.db.WithContext(ctx).Where("email = ?", email).First(&p)

	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fault.NotFound("profile", email)
	}

	if result.Error != nil {
		r.logger.Error("Database returned error",
			zap.Error(result.Error),
		)
		return nil, fault.Database(result.Error)
	}

	return &p, nil
}
