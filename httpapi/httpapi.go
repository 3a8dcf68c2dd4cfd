// Package httpapi exposes the gateway's health probe and trust-token JWKS
// over HTTP. Thin by design: authentication transport and request framing
// live outside this module.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ineyio/costgate"
)

// HealthSource reports per-dependency health, typically a
// *costgate.Gateway.
type HealthSource interface {
	Health() map[string]costgate.HealthState
}

// KeySource renders the public verification keys, typically a
// *trust.Signer.
type KeySource interface {
	JWKSJSON() ([]byte, error)
}

// New builds the HTTP surface.
func New(health HealthSource, keys KeySource) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", healthHandler(health))
	r.Get("/.well-known/jwks.json", jwksHandler(keys))
	return r
}

type healthResponse struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

func healthHandler(source HealthSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snapshot := source.Health()

		resp := healthResponse{
			Status:       "ok",
			Dependencies: make(map[string]string, len(snapshot)),
		}
		status := http.StatusOK
		for dep, state := range snapshot {
			resp.Dependencies[dep] = state.String()
			if state == costgate.HealthUnhealthy {
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func jwksHandler(source KeySource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		data, err := source.JWKSJSON()
		if err != nil {
			http.Error(w, "key set unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	}
}
