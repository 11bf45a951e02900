package subscription

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mamazine/backend/auth"
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
	SubscriptionManager *Manager
	Logger              *zap.Logger
}

// Service is the subscription API router
type Service struct {
	ServiceOptions
}

// NewService will create an instance of the subscription API router
func NewService(option ServiceOptions) (*Service, error) {
	if option.SubscriptionManager == nil {
		return nil, fmt.Errorf("nil SubscriptionManager is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Service{
		ServiceOptions: option,
	}, nil
}

// writeFault logs server-side failures and flattens err for the client
func (s *Service) writeFault(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch fault.KindOf(err) {
	case fault.KindValidation, fault.KindNotFound:
		// client-recoverable, nothing to report
	default:
		logger.Error("Subscription operation failed",
			zap.Error(err),
		)
	}
	resp.WriteError(w, r, resp.FromFault(err))
}

func (s *Service) getSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	sub, err := s.SubscriptionManager.GetByUserID(ctx, claims.ID)
	if err != nil {
		s.writeFault(w, r, s.Logger.With(zap.String("UserID", claims.ID)), err)
		return
	}

	resp.WriteResponse(w, r, sub)
}

// CheckoutRequest is the client payload to start a hosted checkout
type CheckoutRequest struct {
	TierID          string   `json:"tierId" validate:"required"`
	Interval        string   `json:"interval" validate:"required,oneof=month year"`
	AddonProductIDs []string `json:"addonProductIds"`
	SuccessURL      string   `json:"successUrl" validate:"required,url"`
	CancelURL       string   `json:"cancelUrl" validate:"required,url"`
}

func (s *Service) createCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	session, err := s.SubscriptionManager.CreateCheckoutSession(ctx, CheckoutInput{
		TierID:          req.TierID,
		Interval:        tier.Interval(req.Interval),
		AddonProductIDs: req.AddonProductIDs,
		SuccessURL:      req.SuccessURL,
		CancelURL:       req.CancelURL,
		CustomerEmail:   claims.Email,
	})
	if err != nil {
		s.writeFault(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, session)
}

func (s *Service) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	sub, err := s.SubscriptionManager.Cancel(ctx, claims.ID)
	if err != nil {
		s.writeFault(w, r, s.Logger.With(zap.String("UserID", claims.ID)), err)
		return
	}

	resp.WriteResponse(w, r, sub)
}

func (s *Service) reactivateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	sub, err := s.SubscriptionManager.Reactivate(ctx, claims.ID)
	if err != nil {
		s.writeFault(w, r, s.Logger.With(zap.String("UserID", claims.ID)), err)
		return
	}

	resp.WriteResponse(w, r, sub)
}

// ChangeTierRequest is the client payload to move to a different tier
type ChangeTierRequest struct {
	TierID          string   `json:"tierId" validate:"required"`
	Interval        string   `json:"interval" validate:"required,oneof=month year"`
	AddonProductIDs []string `json:"addonProductIds"`
}

func (s *Service) changeTier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	var req ChangeTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	if err := validate.Struct(&req); err != nil {
		resp.WriteError(w, r, resp.ErrBadRequest().AddMessages(err.Error()))
		return
	}

	sub, err := s.SubscriptionManager.ChangeTier(ctx, claims.ID, ChangeTierInput{
		NewTierID:       req.TierID,
		Interval:        tier.Interval(req.Interval),
		AddonProductIDs: req.AddonProductIDs,
	})
	if err != nil {
		s.writeFault(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, sub)
}

// SwapAddonsRequest is the client payload to replace addon selections.
// An empty list clears them.
type SwapAddonsRequest struct {
	AddonProductIDs []string `json:"addonProductIds"`
}

func (s *Service) swapAddons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := ctx.Value(auth.Context).(*auth.Claims)

	logger := s.Logger.With(zap.String("UserID", claims.ID))

	var req SwapAddonsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		resp.WriteError(w, r, resp.ErrInvalidJson())
		return
	}
	sub, err := s.SubscriptionManager.SwapAddons(ctx, claims.ID, req.AddonProductIDs)
	if err != nil {
		s.writeFault(w, r, logger, err)
		return
	}

	resp.WriteResponse(w, r, sub)
}

// Router will return the routes under subscription API
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/", s.getSubscription)
	r.Post("/checkout", s.createCheckout)
	r.Post("/cancel", s.cancelSubscription)
	r.Post("/reactivate", s.reactivateSubscription)
	r.Post("/tier", s.changeTier)
	r.Put("/addons", s.swapAddons)

	return r
}
