package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// envelope est le contrat de réponse succès/erreur
type envelope struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data,omitempty"`
	Message    string `json:"message"`
}

// rateLimitedBody est le corps spécifique des 429
type rateLimitedBody struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"` // secondes
}

func writeEnvelope(w http.ResponseWriter, status int, data any, message string) {
	writeJSON(w, status, envelope{StatusCode: status, Data: data, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("❌ Failed to encode response", "error", err)
	}
}
