package management

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/endorses/filterkit/internal/pkg/loader"
	"github.com/endorses/filterkit/internal/pkg/logger"
	"github.com/endorses/filterkit/pkg/filters"
)

// Error codes carried in ErrorDetail.Code.
const (
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeUnavailable     = "UNAVAILABLE"
	CodeInternal        = "INTERNAL"
)

var (
	errBadBody  = errors.New("invalid request body")
	errNoLoader = errors.New("no filter loader configured")
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     ErrorDetail `json:"error"`
	Status    int         `json:"status"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorDetail describes a failed request.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps err to a status code and writes it as JSON.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, CodeInternal
	switch {
	case errors.Is(err, filters.ErrUnknownFilter):
		status, code = http.StatusNotFound, CodeNotFound
	case errors.Is(err, errBadBody):
		status, code = http.StatusBadRequest, CodeInvalidArgument
	case errors.Is(err, loader.ErrSourceNotFound), errors.Is(err, errNoLoader):
		status, code = http.StatusServiceUnavailable, CodeUnavailable
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Management request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestIDFrom(r.Context()),
			"error", err)
	}

	writeJSON(w, status, ErrorResponse{
		Error:     ErrorDetail{Code: code, Message: err.Error()},
		Status:    status,
		RequestID: RequestIDFrom(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}
