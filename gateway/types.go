package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/alexanderbartels/marble/errors"
)

// CORSConfig controls cross-origin headers on listener responses. Disabled
// by default; enabling requires explicit origin configuration.
type CORSConfig struct {
	// Enabled turns CORS header emission on.
	Enabled bool
	// Origins lists allowed origins. Use ["*"] for development only.
	Origins []string
}

// Validate ensures the CORS configuration is usable.
func (c *CORSConfig) Validate() error {
	if c.Enabled && len(c.Origins) == 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "CORSConfig", "Validate",
			"enabled CORS requires explicit origins (use [\"*\"] for development only)")
	}
	return nil
}

// Apply writes CORS headers when the request origin is allowed.
func (c *CORSConfig) Apply(w http.ResponseWriter, r *http.Request) {
	if !c.Enabled {
		return
	}

	origin := r.Header.Get("Origin")
	allowed := false
	for _, candidate := range c.Origins {
		if candidate == "*" || candidate == origin {
			allowed = true
			break
		}
	}
	if !allowed {
		return
	}

	if origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	} else {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// ErrorBody is the JSON error shape written to external clients.
type ErrorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	data, _ := json.Marshal(ErrorBody{Error: message, Status: statusCode})
	_, _ = w.Write(data)
}
