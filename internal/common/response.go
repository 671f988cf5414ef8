package common

import (
	"encoding/json"
	"net/http"
)

// ErrorBody represents a consistent error payload returned by the API.
type ErrorBody struct {
	Kind    Kind   `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// JSON writes the provided value to the response writer as JSON.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// JSONError renders an error response using the canonical error shape.
func JSONError(w http.ResponseWriter, status int, kind Kind, code, message string, details any) {
	JSON(w, status, map[string]any{
		"error": ErrorBody{
			Kind:    kind,
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// WriteError renders err according to its kind. Internal causes are not leaked to clients.
func WriteError(w http.ResponseWriter, err error) {
	appErr := AsAppError(err)
	message := appErr.Message
	if message == "" {
		message = string(appErr.Kind)
	}
	JSONError(w, appErr.Kind.HTTPStatus(), appErr.Kind, appErr.Code, message, appErr.Details)
}
