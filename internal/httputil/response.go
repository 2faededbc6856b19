package httputil

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/supercopa/totem/internal/errors"
	"github.com/supercopa/totem/internal/logging"
)

const maxRequestBodyBytes = 1 << 20

// ErrorBody is the JSON envelope written for failed requests.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	TraceID string         `json:"trace_id,omitempty"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteErrorResponse writes the error envelope.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, status int, code, message string, details map[string]any) {
	body := ErrorBody{Error: ErrorDetail{Code: code, Message: message, Details: details}}
	if r != nil {
		body.Error.TraceID = logging.GetTraceID(r.Context())
	}
	WriteJSON(w, status, body)
}

// WriteServiceError writes err, mapping it through errors.GetServiceError.
// Errors that are not ServiceErrors become a generic 500.
func WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	se := errors.GetServiceError(err)
	if se == nil {
		se = errors.Internal("internal error", err)
	}
	WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteErrorResponse(w, nil, status, strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_")), message, nil)
}

func BadRequest(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusBadRequest, string(errors.CodeBadRequest), message, nil)
}

func NotFound(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusNotFound, string(errors.CodeNotFound), message, nil)
}

func Unauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "authentication required"
	}
	WriteErrorResponse(w, nil, http.StatusUnauthorized, string(errors.CodeUnauthorized), message, nil)
}

func InternalError(w http.ResponseWriter, message string) {
	WriteErrorResponse(w, nil, http.StatusInternalServerError, string(errors.CodeInternal), message, nil)
}

// DecodeJSON decodes the request body into v. On failure it writes a 400 and
// returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		BadRequest(w, "request body required")
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(v); err != nil {
		BadRequest(w, "invalid JSON body")
		return false
	}
	return true
}
