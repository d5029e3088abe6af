// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Verigate Contributors

package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/verigate/verigate/internal/auth"
	"github.com/verigate/verigate/internal/observability"
	"github.com/verigate/verigate/pkg/errutil"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 64 << 10

// errBadRequest marks request bodies that could not be decoded.
var errBadRequest = errors.New("malformed request")

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, messageResponse{Message: msg})
}

// decode reads a single JSON object from the request body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return oops.Code("HTTP_BAD_REQUEST").Public("malformed JSON body").Wrap(errors.Join(errBadRequest, err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return oops.Code("HTTP_BAD_REQUEST").Public("malformed JSON body").Wrap(errBadRequest)
	}
	return nil
}

// statusFor maps an error kind to the HTTP status of operation. Rejected
// credentials are 401 on the login steps and 400 elsewhere.
func statusFor(kind auth.Kind, authStatus int) int {
	switch kind {
	case auth.KindNone:
		return http.StatusOK
	case auth.KindValidation, auth.KindConflict:
		return http.StatusBadRequest
	case auth.KindAuthentication:
		return authStatus
	default:
		return http.StatusServiceUnavailable
	}
}

func outcomeFor(kind auth.Kind) string {
	switch kind {
	case auth.KindNone:
		return observability.OutcomeSuccess
	case auth.KindValidation:
		return observability.OutcomeValidation
	case auth.KindConflict:
		return observability.OutcomeConflict
	case auth.KindAuthentication:
		return observability.OutcomeAuthentication
	default:
		return observability.OutcomeError
	}
}

// fail writes the caller-safe rendering of err and records the outcome.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, operation string, authStatus int, err error) {
	if errors.Is(err, errBadRequest) {
		h.recorder.RecordAuthRequest(operation, observability.OutcomeValidation)
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body"})
		return
	}

	kind := auth.KindOf(err)
	h.recorder.RecordAuthRequest(operation, outcomeFor(kind))
	if kind == auth.KindInfrastructure {
		errutil.LogErrorContext(r.Context(), h.logger, slog.LevelError, operation+" failed", err)
	}

	writeJSON(w, statusFor(kind, authStatus), errorResponse{
		Error: auth.PublicMessage(err),
		Field: auth.Field(err),
	})
}

func (h *Handler) succeed(operation string) {
	h.recorder.RecordAuthRequest(operation, observability.OutcomeSuccess)
}
