package middleware

import (
	"net/http"

	"github.com/veriflow/veriflow-backend/pkg/utils"
)

// AdminAuth guards the admin surface with a shared key passed in the
// X-Admin-Key header and checked against an Argon2id hash from configuration.
// When no hash is configured the whole admin surface is denied, never open.
func AdminAuth(adminKeyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKeyHash == "" {
				http.Error(w, "admin access is not configured", http.StatusForbidden)
				return
			}

			key := r.Header.Get("X-Admin-Key")
			if key == "" {
				http.Error(w, "missing admin key", http.StatusUnauthorized)
				return
			}

			ok, err := utils.VerifySecret(key, adminKeyHash)
			if err != nil || !ok {
				http.Error(w, "invalid admin key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
