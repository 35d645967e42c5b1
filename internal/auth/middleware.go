package auth

import (
	"net/http"

	"github.com/frahmantamala/consultation-booking/internal"
	"github.com/frahmantamala/consultation-booking/internal/transport"
	"github.com/frahmantamala/consultation-booking/pkg/logger"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

type Middleware struct {
	*transport.BaseHandler
	validator TokenValidator
}

func NewMiddleware(validator TokenValidator) *Middleware {
	return &Middleware{
		BaseHandler: transport.NewBaseHandler(logger.LoggerWrapper()),
		validator:   validator,
	}
}

// Authenticate puts the caller's user id into the request context.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.ExtractTokenFromHeader(r)
		if token == "" {
			m.WriteError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			m.Logger.Warn("token validation failed", "error", err)
			m.HandleServiceError(w, err)
			return
		}

		// ValidateToken already checked the id parses
		uid, _ := claims.UserIDInt()

		ctx := internal.ContextWithUserID(r.Context(), uid)
		ctx = logger.With(ctx, "user_id", uid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
