package httpapi

import (
	"crypto/subtle"
	"net/http"
)

// APIKeyEnv names the environment variable holding the status API key
const APIKeyEnv = "COMFY_BATCH_API_KEY"

// AuthMiddleware checks the X-API-Key header. An empty apiKey disables auth.
func AuthMiddleware(next http.Handler, apiKey string) http.Handler {
	if apiKey == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		providedKey := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
