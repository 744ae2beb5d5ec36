package api

import (
	"encoding/json"
	"errors"
	"net/http"

	serrors "github.com/logicthinker/orm-capital-engine/infrastructure/errors"
)

// errorEnvelope is the uniform error body.
type errorEnvelope struct {
	ErrorCode    serrors.ErrorCode      `json:"error_code"`
	ErrorMessage string                 `json:"error_message"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func respondError(w http.ResponseWriter, err error) {
	var se *serrors.ServiceError
	if !errors.As(err, &se) {
		se = serrors.Internal(err)
	}
	respondJSON(w, se.HTTPStatus, errorEnvelope{
		ErrorCode:    se.Code,
		ErrorMessage: se.Message,
		Details:      se.Details,
	})
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return serrors.Wrap(serrors.ErrCodeValidation, "malformed request body",
			http.StatusBadRequest, err)
	}
	return nil
}
