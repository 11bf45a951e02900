package auth

import (
	"context"
	"fmt"
	"net/http"

	resp "github.com/mamazine/backend/response"

	"go.uber.org/zap"
)

// ContextKey is a defined type to be used in context.Context containing the Claims
type ContextKey string

// Context is key used in context.Context containing the Claims
const Context ContextKey = "authContext"

var bearerPrefix = "Bearer "

// Claims identifies the authenticated user for façade calls
type Claims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verifier resolves a bearer token into Claims. The identity subsystem
// supplies the implementation; a nil Claims with nil error means the token
// did not verify.
type Verifier func(token string) (*Claims, error)

// Options provides initialization parameters for Auth
type Options struct {
	Verifier Verifier
	Logger   *zap.Logger
}

// Auth guards routes that require an authenticated user
type Auth struct {
	Options
}

// New validates the options and returns an Auth
func New(option Options) (*Auth, error) {
	if option.Verifier == nil {
		return nil, fmt.Errorf("nil Verifier is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Auth{
		Options: option,
	}, nil
}

// Middleware returns a http middleware to verify Bearer in the header
func (a *Auth) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			n := len(bearerPrefix)
			if len(auth) < n || auth[:n] != bearerPrefix {
				resp.WriteError(w, r, resp.ErrNoBearer())
				return
			}
			claims, err := a.Verifier(auth[n:])
			if err != nil {
				a.Logger.Error("Cannot verify bearer token",
					zap.Error(err),
				)
				resp.WriteError(w, r, resp.ErrUnexpected())
				return
			}
			if claims == nil {
				resp.WriteError(w, r, resp.ErrNoBearer())
				return
			}

			ctx := context.WithValue(r.Context(), Context, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
