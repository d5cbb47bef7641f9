package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "optout/pkg/domain-errors"
	"optout/pkg/platform/faults"
)

// ErrorResponse is the JSON body of every non-2xx response.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already sent; an encoding failure cannot change the status.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError maps a translated fault (or a bare domain error raised by a handler) onto an
// HTTP response. Server-side kinds never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	status, body := ErrorFor(err)
	WriteJSON(w, status, body)
}

// ErrorFor returns the status and body WriteError would send.
func ErrorFor(err error) (int, ErrorResponse) {
	kind, ok := faults.KindOf(err)
	if !ok {
		if dErrors.CodeOf(err) != "" {
			kind = faults.KindValidation
		} else {
			kind = faults.KindService
		}
	}

	switch kind {
	case faults.KindValidation:
		code := dErrors.CodeOf(err)
		return ValidationStatus(code), ErrorResponse{Error: string(code), Description: domainMessage(err)}
	case faults.KindDependencyValidation:
		return http.StatusBadRequest, ErrorResponse{
			Error:       "dependency_validation",
			Description: dependencyDescription(err),
		}
	case faults.KindDependency:
		return http.StatusInternalServerError, ErrorResponse{
			Error:       "dependency_unavailable",
			Description: "a required service is unavailable, please retry later",
		}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: string(dErrors.CodeInternal)}
	}
}

// ValidationStatus picks the status for a caller-correctable failure.
func ValidationStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeUnauthorized, dErrors.CodeInvalidCaptcha:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func domainMessage(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) {
		return de.Message
	}
	return ""
}

func dependencyDescription(err error) string {
	if msg := domainMessage(err); msg != "" {
		return msg
	}
	return "the request was rejected by an upstream service"
}
