package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "openconsent/pkg/domain-errors"
)

// errorResponse is the JSON error envelope. The code is part of the API
// contract; the message is advisory.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	resp := errorResponse{Error: string(code)}
	var de *dErrors.Error
	if errors.As(err, &de) {
		resp.Message = de.Message
	}
	writeJSON(w, dErrors.ToHTTPStatus(code), resp)
}
