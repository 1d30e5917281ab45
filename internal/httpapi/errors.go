// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/storefront/storefront/internal/auth"
	"github.com/storefront/storefront/pkg/errutil"
)

// kindNotFound is reported for unknown routes. It is not an auth kind.
const kindNotFound = "NOT_FOUND"

// kindMethodNotAllowed is reported when a route exists but not for the method.
const kindMethodNotAllowed = "METHOD_NOT_ALLOWED"

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind auth.Kind) int {
	switch kind {
	case auth.KindValidation, auth.KindAlreadyExists, auth.KindInvalidResetToken:
		return http.StatusBadRequest
	case auth.KindInvalidCredentials, auth.KindUnauthenticated:
		return http.StatusUnauthorized
	case auth.KindForbidden:
		return http.StatusForbidden
	case auth.KindUserNotFound:
		return http.StatusNotFound
	case auth.KindConflict:
		return http.StatusConflict
	case auth.KindEmailDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// writeError renders err as the JSON error body. Internal errors never expose
// their message.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := auth.KindOf(err)
	status := StatusFor(kind)

	msg := "internal server error"
	if kind == auth.KindInternal {
		errutil.LogErrorContext(r.Context(), logger, "request failed", err)
	} else {
		msg = errorMessage(err)
	}

	logger.DebugContext(r.Context(), "request error",
		"kind", string(kind),
		"status", status,
		"path", r.URL.Path,
	)
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: string(kind), Message: msg}})
}

// errorMessage returns the caller-facing message of a classified error.
func errorMessage(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		return oopsErr.Error()
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may have gone away; nothing left to report
	json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{Error: errorDetail{Kind: kindNotFound, Message: "route not found"}})
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{Kind: kindMethodNotAllowed, Message: "method not allowed"}})
}
