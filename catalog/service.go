package catalog

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mamazine/backend/fault"
	resp "github.com/mamazine/backend/response"
	"github.com/mamazine/backend/tier"

	"github.com/go-chi/chi"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

var validate *validator.Validate = validator.New()

// ServiceOptions contains the configuration for Service router
type ServiceOptions struct {
	CatalogManager *Manager
	Logger         *zap.Logger
}

// Service is the catalog administration API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the catalog API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.CatalogManager == nil {
		return nil, fmt.Errorf("nil CatalogManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

func (s *Service) writeFault(w http.ResponseWriter, r *http.Request, err error) {
	switch fault.KindOf(err) {
	case fault.KindValidation, fault.KindNotFound:
	default:
		s.Logger.Error("Catalog operation failed",
			zap.Error(err),
		)
	}
	resp.WriteError(w, r, resp.FromFault(err))
}

// CreateTierRequest is the admin payload to launch a new tier
type CreateTierRequest struct {
	Name          string `json:"name" validate:"required"`
	Description   string `json:"description"`
	AddonSlots    int    `json:"addonSlots" validate:"min=0"`
	MonthlyAmount int64  `json:"monthlyAmount" validate:"required,gt=0"`
	AnnualAmount  int64  `json:"annualAmount" validate:"required,gt=0"`
	Currency      string `json:"currency" validate:"required,len=3"`
}

func (s *Service) createTier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	t, err := s.CatalogManager.CreateTier(ctx, CreateTierInput{
		Name:          req.Name,
		Description:   req.Description,
		AddonSlots:    req.AddonSlots,
		MonthlyAmount: req.MonthlyAmount,
		AnnualAmount:  req.AnnualAmount,
		Currency:      req.Currency,
	})
	if err != nil {
		s.writeFault(w, r, err)
		return
	}

	resp.WriteResponse(w, r, t)
}

func (s *Service) listTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := s.CatalogManager.ListTiers(r.Context())
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	resp.WriteResponse(w, r, tiers)
}

func (s *Service) getTier(w http.ResponseWriter, r *http.Request) {
	t, err := s.CatalogManager.GetTier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	resp.WriteResponse(w, r, t)
}

// UpdateTierRequest is the admin payload to change a tier's descriptive fields
type UpdateTierRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	AddonSlots  int    `json:"addonSlots" validate:"min=0"`
}

func (s *Service) updateTier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req UpdateTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	t, err := s.CatalogManager.UpdateTier(ctx, chi.URLParam(r, "id"), UpdateTierInput{
		Name:        req.Name,
		Description: req.Description,
		AddonSlots:  req.AddonSlots,
	})
	if err != nil {
		s.writeFault(w, r, err)
		return
	}

	resp.WriteResponse(w, r, t)
}

// AddPriceRequest is the admin payload to reprice one interval of a tier
type AddPriceRequest struct {
	Interval string `json:"interval" validate:"required,oneof=month year"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Currency string `json:"currency" validate:"required,len=3"`
}

func (s *Service) addTierPrice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req AddPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	p, err := s.CatalogManager.AddTierPrice(ctx, chi.URLParam(r, "id"), AddPriceInput{
		Interval: tier.Interval(req.Interval),
		Amount:   req.Amount,
		Currency: req.Currency,
	})
	if err != nil {
		s.writeFault(w, r, err)
		return
	}

	resp.WriteResponse(w, r, p)
}

func (s *Service) deactivateTier(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.CatalogManager.DeactivateTier(r.Context(), id); err != nil {
		s.writeFault(w, r, err)
		return
	}
	resp.WriteResponse(w, r, id)
}

// AddonRequest is the admin payload for add-on product create and update
type AddonRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (s *Service) createAddon(w http.ResponseWriter, r *http.Request) {
	var req AddonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	p, err := s.CatalogManager.CreateAddon(r.Context(), AddonInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		s.writeFault(w, r, err)
		return
	}

	resp.WriteResponse(w, r, p)
}

func (s *Service) listAddons(w http.ResponseWriter, r *http.Request) {
	addons, err := s.CatalogManager.ListAddons(r.Context())
	if err != nil {
		s.writeFault(w, r, err)
		return
	}
	resp.WriteResponse(w, r, addons)
}

func (s *Service) updateAddon(w http.ResponseWriter, r *http.Request) {
	var req AddonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	p, err := s.CatalogManager.UpdateAddon(r.Context(), chi.URLParam(r, "id"), AddonInput{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		s.writeFault(w, r, err)
		return
	}

	resp.WriteResponse(w, r, p)
}

func (s *Service) deactivateAddon(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.CatalogManager.DeactivateAddon(r.Context(), id); err != nil {
		s.writeFault(w, r, err)
		return
	}
	resp.WriteResponse(w, r, id)
}

// PublicRouter will return the read-only storefront routes
func (s *Service) PublicRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/tiers", s.listTiers)
	r.Get("/tiers/{id}", s.getTier)
	r.Get("/addons", s.listAddons)

	return r
}

// Router will return the routes under catalog administration API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Route("/tiers", func(r chi.Router) {
		r.Get("/", s.listTiers)
		r.Post("/", s.createTier)
		r.Get("/{id}", s.getTier)
		r.Put("/{id}", s.updateTier)
		r.Delete("/{id}", s.deactivateTier)
		r.Post("/{id}/prices", s.addTierPrice)
	})

	r.Route("/addons", func(r chi.Router) {
		r.Get("/", s.listAddons)
		r.Post("/", s.createAddon)
		r.Put("/{id}", s.updateAddon)
		r.Delete("/{id}", s.deactivateAddon)
	})

	return r
}
