package port

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Harshith2412/zta-finance/internal/domain"
	"github.com/Harshith2412/zta-finance/internal/errmap"
)

// maxBodyBytes caps request bodies. Every legitimate request here is a
// few hundred bytes.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError renders a domain error through errmap. Handlers never choose
// status codes themselves.
func writeError(w http.ResponseWriter, err error) {
	httpErr := errmap.ToHTTPError(err)
	writeJSON(w, httpErr.StatusCode, httpErr)
}

// decode reads a JSON request body into v. Failures come back as
// domain.ErrInvalidInput so they render as 400s.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", domain.ErrInvalidInput)
	}
	return nil
}
