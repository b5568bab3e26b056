package rbac

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/teamgrid/authz/pkg/contextkeys"
	"github.com/teamgrid/authz/pkg/httputil"
)

// ActorHeader carries the calling user's ID, injected by the platform
// gateway. Token verification happens upstream; this service trusts the
// header.
const ActorHeader = "X-Actor-ID"

// RequestIDHeader propagates the request ID from the gateway
const RequestIDHeader = "X-Request-ID"

// ActorMiddleware resolves the acting user from the gateway headers and
// stashes it in the request context along with the request ID.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = contextkeys.WithRequestID(ctx, requestID)
		w.Header().Set(RequestIDHeader, requestID)

		if raw := r.Header.Get(ActorHeader); raw != "" {
			if actorID, err := uuid.Parse(raw); err == nil {
				ctx = contextkeys.WithActor(ctx, actorID)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission guards a route behind a permission check on the acting
// user. Requests without an actor get 401; denied actors get 403.
func RequirePermission(resolver *Resolver, permission string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := contextkeys.Actor(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "no acting user")
				return
			}
			if !resolver.HasPermission(r.Context(), actor, permission) {
				httputil.WriteForbidden(w, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAnyRole guards a route behind a role check on the acting user
func RequireAnyRole(resolver *Resolver, roleNames ...string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := contextkeys.Actor(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "no acting user")
				return
			}
			if !resolver.HasAnyRole(r.Context(), actor, roleNames...) {
				httputil.WriteForbidden(w, "role required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
