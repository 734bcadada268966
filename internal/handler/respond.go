package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/firmdesk/firmdesk/internal/domain"
)

// envelope is the uniform response shape.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// writeErr maps a domain error to its status and machine code. Unknown errors
// become opaque 500s; their detail stays in the log, not the response.
func writeErr(w http.ResponseWriter, logger *slog.Logger, err error) {
	err = domain.Normalize(err)
	status := domain.HTTPStatus(err)
	body := envelope{Success: false, Code: domain.CodeOf(err)}

	var de *domain.Error
	if errors.As(err, &de) {
		body.Message = de.Message
		body.Field = de.Field
	} else {
		body.Message = "internal server error"
		if logger != nil {
			logger.Error("request failed", slog.String("error", err.Error()))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeJSONRaw writes an arbitrary body without the envelope.
func writeJSONRaw(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON decodes a request body, rejecting unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.E(domain.KindValidation, domain.CodeValidationError, "invalid JSON body").Wrap(err)
	}
	return nil
}
