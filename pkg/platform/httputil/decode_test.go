package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "optout/pkg/domain-errors"
	"optout/pkg/platform/faults"
	"optout/pkg/platform/sentinel"
)

type testRequest struct {
	Identifier string `json:"identifier"`
	Force      bool   `json:"force_new_code"`
}

func TestDecodeJSON(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"identifier":"1234567890","force_new_code":true}`))
		w := httptest.NewRecorder()

		req, ok := DecodeJSON[testRequest](w, r, logger)
		require.True(t, ok)
		assert.Equal(t, "1234567890", req.Identifier)
		assert.True(t, req.Force)
	})

	t.Run("malformed body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"identifier":`))
		w := httptest.NewRecorder()

		req, ok := DecodeJSON[testRequest](w, r, logger)
		assert.False(t, ok)
		assert.Nil(t, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "bad_request", body.Error)
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"identifier":"1234567890","admin":true}`))
		w := httptest.NewRecorder()

		_, ok := DecodeJSON[testRequest](w, r, logger)
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestErrorFor(t *testing.T) {
	fault := func(kind faults.Kind, err error) error {
		return &faults.Fault{Kind: kind, Op: "op", Err: err}
	}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		wantDesc   bool
	}{
		{"invalid input", fault(faults.KindValidation, dErrors.New(dErrors.CodeInvalidInput, "identifier must be 10 digits")), http.StatusBadRequest, "invalid_input", true},
		{"unauthorized", fault(faults.KindValidation, dErrors.New(dErrors.CodeUnauthorized, "missing role")), http.StatusUnauthorized, "unauthorized", true},
		{"invalid captcha", fault(faults.KindValidation, dErrors.New(dErrors.CodeInvalidCaptcha, "captcha failed")), http.StatusUnauthorized, "invalid_captcha", true},
		{"valid code exists", fault(faults.KindValidation, dErrors.New(dErrors.CodeValidCodeExists, "use existing code")), http.StatusBadRequest, "valid_code_exists", true},
		{"not found", fault(faults.KindValidation, dErrors.New(dErrors.CodeNotFound, "no such patient")), http.StatusNotFound, "not_found", true},
		{"conflict", fault(faults.KindDependencyValidation, fmt.Errorf("update: %w", sentinel.ErrConflict)), http.StatusBadRequest, "dependency_validation", true},
		{"dependency", fault(faults.KindDependency, fmt.Errorf("lookup: %w", sentinel.ErrUnavailable)), http.StatusInternalServerError, "dependency_unavailable", true},
		{"service", fault(faults.KindService, fmt.Errorf("boom")), http.StatusInternalServerError, "internal_error", false},
		{"bare domain error", dErrors.New(dErrors.CodeBadRequest, "invalid request body"), http.StatusBadRequest, "bad_request", true},
		{"plain error", fmt.Errorf("secret detail"), http.StatusInternalServerError, "internal_error", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := ErrorFor(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantError, body.Error)
			assert.Equal(t, tt.wantDesc, body.Description != "")
			assert.NotContains(t, body.Description, "secret")
		})
	}
}
