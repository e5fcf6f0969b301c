package http

import (
	"context"
	"net/http"

	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

type ctxUserIDKey struct{}

// contextWithUserID stores the authenticated user in ctx
func contextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxUserIDKey{}, userID)
}

// userIDFrom returns the authenticated user, or "" outside authMiddleware
func userIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(ctxUserIDKey{}).(string); ok {
		return v
	}
	return ""
}

// authMiddleware resolves the user from the Authorization header. In no-auth mode the
// header is not required.
func authMiddleware(authUC AuthUseCase) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" && !authUC.IsNoAuthn() {
				http.Error(w, "Authentication required", http.StatusUnauthorized)
				return
			}

			userID, err := authUC.Authenticate(r.Context(), header)
			if err != nil {
				logging.From(r.Context()).Debug("authentication failed", "error", err.Error())
				http.Error(w, "Invalid authentication token", http.StatusUnauthorized)
				return
			}

			ctx := contextWithUserID(r.Context(), userID)
			ctx = logging.With(ctx, logging.From(ctx).With("user_id", userID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
