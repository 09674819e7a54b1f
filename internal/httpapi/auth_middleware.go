package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/inkwell-hq/inkwell-core/internal/apperr"
	"github.com/inkwell-hq/inkwell-core/internal/identity"
	"github.com/inkwell-hq/inkwell-core/internal/tokens"
)

type callerContextKey struct{}

// AuthMiddleware resolves the bearer access token to a caller and rejects
// locked accounts; unauthenticated or invalid tokens get UNAUTHORIZED.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" {
			writeAppErr(w, r, apperr.New(apperr.Unauthorized, "missing bearer token"))
			return
		}

		verified, err := s.Tokens.Verify(raw, tokens.Access)
		if err != nil {
			writeAppErr(w, r, err)
			return
		}

		user, err := s.Identity.GetByID(r.Context(), verified.UserID)
		if err != nil {
			writeAppErr(w, r, apperr.New(apperr.Unauthorized, "invalid credentials"))
			return
		}
		if user.IsLocked {
			writeAppErr(w, r, apperr.New(apperr.Forbidden, "account is locked"))
			return
		}

		ctx := context.WithValue(r.Context(), callerContextKey{}, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix))
}

// caller retrieves the authenticated user populated by AuthMiddleware.
func caller(r *http.Request) *identity.User {
	u, _ := r.Context().Value(callerContextKey{}).(*identity.User)
	return u
}
