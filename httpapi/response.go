package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrEthical07/otpauth"
)

const maxBodyBytes = 1 << 16

type apiError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Kind       string `json:"kind"`
	Retryable  bool   `json:"retryable"`
	Success    bool   `json:"success"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{
		"success": true,
		"data":    data,
	})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"success": true,
		"message": message,
	})
}

// writeError maps err to its kind. Backend causes never reach the client.
func writeError(w http.ResponseWriter, err error) {
	kind := otpauth.KindOf(err)
	status := kind.HTTPStatus()

	msg := err.Error()
	switch kind {
	case otpauth.KindStorageFailure, otpauth.KindUnknown:
		msg = "internal server error"
	case otpauth.KindDeliveryFailed:
		msg = "could not deliver code"
	}

	writeJSON(w, status, apiError{
		StatusCode: status,
		Message:    msg,
		Kind:       kind.String(),
		Retryable:  kind.Retryable(),
		Success:    false,
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}
