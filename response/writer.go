package response

import (
	"encoding/json"
	"net/http"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// WriteResponse serializes data in the success envelope.
func WriteResponse(w http.ResponseWriter, r *http.Request, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(envelope{
		Success: true,
		Data:    data,
	})
}

// WriteError serializes respErr in the failure envelope with its status code.
func WriteError(w http.ResponseWriter, r *http.Request, respErr *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(respErr.StatusCode)
	json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error:   respErr,
	})
}
