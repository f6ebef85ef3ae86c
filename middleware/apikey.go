package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"lyrics-sync-go/logcolors"

	log "github.com/sirupsen/logrus"
)

// APIKeyMiddleware guards the admin routes with the X-API-Key header.
// With no key configured every request passes, which suits local setups;
// a warning is logged once at construction.
func APIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	if apiKey == "" {
		log.Warnf("%s No API_KEY configured, admin endpoints are open", logcolors.LogAPIKey)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			providedKey := r.Header.Get("X-API-Key")
			if providedKey == "" {
				log.Warnf("%s Missing API key from %s for %s", logcolors.LogAPIKey, r.RemoteAddr, r.URL.Path)
				unauthorized(w, "API key required", "Provide a valid API key via X-API-Key header")
				return
			}

			if subtle.ConstantTimeCompare([]byte(providedKey), []byte(apiKey)) != 1 {
				log.Warnf("%s Invalid API key from %s for %s", logcolors.LogAPIKey, r.RemoteAddr, r.URL.Path)
				unauthorized(w, "Invalid API key", "The provided API key is not valid")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   errMsg,
		"message": message,
	})
}
