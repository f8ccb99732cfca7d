package diag

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// response is the standard JSON envelope for the /api/v1 endpoints.
type response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
}

func requestID() string {
	return "req_" + uuid.NewString()[:8]
}

func respondOK(w http.ResponseWriter, data any) {
	respondJSON(w, http.StatusOK, data, "")
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, nil, msg)
}

func respondJSON(w http.ResponseWriter, status int, data any, errMsg string) {
	resp := response{
		Status:    "ok",
		RequestID: requestID(),
		Timestamp: time.Now().UTC(),
		Data:      data,
		Error:     errMsg,
	}
	if errMsg != "" {
		resp.Status = "error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
