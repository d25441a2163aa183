package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/Harshitk-cp/bnoracle/internal/domain"
)

type contextKey string

const (
	actorContextKey contextKey = "actor"
	actorHolderKey  contextKey = "actor_holder"
)

// actorHolder lets middleware that runs before auth see who the request
// was authenticated as.
type actorHolder struct {
	actor *domain.Actor
}

func withActorHolder(ctx context.Context, h *actorHolder) context.Context {
	return context.WithValue(ctx, actorHolderKey, h)
}

// Authenticator resolves a plaintext API key to an actor.
type Authenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*domain.Actor, error)
}

func ActorFromContext(ctx context.Context) *domain.Actor {
	a, _ := ctx.Value(actorContextKey).(*domain.Actor)
	return a
}

// WithActor is used by tests and in-process callers that already know the
// actor.
func WithActor(ctx context.Context, a *domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, a)
}

// APIKeyAuth requires "Authorization: Bearer <key>" and puts the actor in
// the request context. Role checks happen in the services.
func APIKeyAuth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			actor, err := authn.Authenticate(r.Context(), strings.TrimSpace(parts[1]))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			if h, ok := r.Context().Value(actorHolderKey).(*actorHolder); ok {
				h.actor = actor
			}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
