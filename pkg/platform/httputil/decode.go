package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "optout/pkg/domain-errors"
	"optout/pkg/requestcontext"
)

const maxBodyBytes = 64 << 10

// DecodeJSON decodes the request body into T. On failure it writes a 400 and returns false.
//
//	req, ok := httputil.DecodeJSON[models.RecordPatientInformationRequest](w, r, h.logger)
//	if !ok {
//	    return
//	}
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (*T, bool) {
	var req T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if logger != nil {
			logger.WarnContext(r.Context(), "failed to decode request body",
				"error", err,
				"request_id", requestcontext.RequestID(r.Context()),
			)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return nil, false
	}
	return &req, true
}
