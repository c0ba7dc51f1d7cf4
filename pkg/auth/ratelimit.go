package auth

import (
	"net/http"

	"github.com/Mindburn-Labs/accord/pkg/api"
	"github.com/Mindburn-Labs/accord/pkg/limiter"
)

// RateLimitMiddleware enforces a per-caller call budget at the HTTP layer,
// keyed by the authenticated principal (falling back to the remote address).
// Unlike the engine's outbound budgets this fails open: an unreachable
// limiter store must not take the whole API down with it.
func RateLimitMiddleware(store limiter.Store, budget limiter.CallBudget) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			caller := r.RemoteAddr
			if p, err := GetPrincipal(r.Context()); err == nil {
				caller = p.ID
			}

			allowed, err := store.Allow(r.Context(), "api/"+caller, budget, 1)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				retryAfter := 1
				if budget.RPM > 0 && budget.RPM < 60 {
					retryAfter = 60 / budget.RPM
				}
				api.WriteTooManyRequests(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
