package httpapi

import (
	"net/http"
	"strings"
)

// SetupRouter sets up HTTP routes
func SetupRouter(handler *Handler, apiKey string) http.Handler {
	mux := http.NewServeMux()

	// GET /version
	mux.HandleFunc("/version", handler.GetVersion)

	// GET /tally
	mux.HandleFunc("/tally", handler.GetTally)

	// POST /cancel
	mux.HandleFunc("/cancel", handler.CancelBatch)

	// GET /units
	mux.HandleFunc("/units", handler.ListUnits)

	// GET /units/{unitId}
	// POST /units/{unitId}/cancel
	mux.HandleFunc("/units/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/cancel") {
			handler.CancelUnit(w, r)
			return
		}
		handler.GetUnit(w, r)
	})

	// Apply auth middleware, but exclude /version endpoint
	wrapped := AuthMiddleware(mux, apiKey)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/version" {
			mux.ServeHTTP(w, r)
			return
		}
		wrapped.ServeHTTP(w, r)
	})
}
