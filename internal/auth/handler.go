package auth

import (
	"log/slog"
	"net/http"

	"github.com/frahmantamala/enrollment-payments/internal"
	"github.com/frahmantamala/enrollment-payments/internal/transport"
	"github.com/frahmantamala/enrollment-payments/pkg/logger"
)

type Handler struct {
	*transport.BaseHandler
	Tokens TokenGenerator
}

func NewHandler(tokens TokenGenerator, lg *slog.Logger) *Handler {
	return &Handler{
		BaseHandler: transport.NewBaseHandler(lg),
		Tokens:      tokens,
	}
}

// AuthMiddleware verifies the bearer token and puts the actor on the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.HandleError(w, internal.NewUnauthorizedError("missing authorization token", internal.ErrCodeInvalidToken))
			return
		}

		claims, err := h.Tokens.ValidateToken(token)
		if err != nil {
			h.Logger.Warn("token validation failed", "path", r.URL.Path, "error", err)
			h.HandleError(w, internal.NewUnauthorizedError("invalid token", internal.ErrCodeInvalidToken))
			return
		}

		actor := claims.Actor()
		ctx := internal.ContextWithActor(r.Context(), actor)
		ctx = logger.With(ctx, "actor", actor.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole lets the request through only when the actor holds one of roles.
func (h *Handler) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := h.RequireActor(w, r)
			if !ok {
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			h.Logger.Warn("access denied: role not allowed",
				"actor", actor.String(),
				"required_roles", roles,
				"path", r.URL.Path)
			h.HandleError(w, internal.NewForbiddenError("insufficient permissions", internal.ErrCodeForbidden))
		})
	}
}
