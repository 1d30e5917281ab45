// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Storefront Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"

	"github.com/storefront/storefront/pkg/errutil"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned by repositories when a unique field collides.
var ErrAlreadyExists = errors.New("already exists")

// ErrConflict is returned by repositories when a conditional write finds the
// record changed since it was read.
var ErrConflict = errors.New("conflict")

// Kind is the stable, machine-checkable class of an error returned by Service.
// Kinds are carried as oops codes.
type Kind string

// Error kinds surfaced to callers of Service.
const (
	KindValidation         Kind = "AUTH_VALIDATION"
	KindAlreadyExists      Kind = "AUTH_ALREADY_EXISTS"
	KindInvalidCredentials Kind = "AUTH_INVALID_CREDENTIALS"
	KindUnauthenticated    Kind = "AUTH_UNAUTHENTICATED"
	KindForbidden          Kind = "AUTH_FORBIDDEN"
	KindUserNotFound       Kind = "AUTH_USER_NOT_FOUND"
	KindInvalidResetToken  Kind = "AUTH_INVALID_RESET_TOKEN"
	KindEmailDelivery      Kind = "AUTH_EMAIL_DELIVERY_FAILED"
	KindConflict           Kind = "AUTH_CONFLICT"
	KindInternal           Kind = "AUTH_INTERNAL"
)

var knownKinds = map[Kind]struct{}{
	KindValidation:         {},
	KindAlreadyExists:      {},
	KindInvalidCredentials: {},
	KindUnauthenticated:    {},
	KindForbidden:          {},
	KindUserNotFound:       {},
	KindInvalidResetToken:  {},
	KindEmailDelivery:      {},
	KindConflict:           {},
	KindInternal:           {},
}

// KindOf classifies err. Errors that do not carry one of the known kinds are
// reported as KindInternal. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	code := Kind(errutil.Code(err))
	if _, known := knownKinds[code]; known {
		return code
	}
	return KindInternal
}

// Sentinel reasons attached to unauthenticated errors under the "reason" key.
const (
	ReasonMissingToken = "missing_token"
	ReasonExpired      = "expired"
	ReasonInvalid      = "invalid"
	ReasonUserNotFound = "user_not_found"
)

// messages shared between code paths that must be indistinguishable.
const (
	msgInvalidCredentials = "invalid email or password"
	msgInvalidResetToken  = "invalid or expired token"
	msgAlreadyExists      = "an account with these details already exists"
	msgConflict           = "the account changed while it was being updated, please try again"
	msgInternal           = "internal server error"
)

func validationError(format string, args ...any) error {
	return oops.Code(string(KindValidation)).Errorf(format, args...)
}

func invalidCredentialsError() error {
	return oops.Code(string(KindInvalidCredentials)).Errorf(msgInvalidCredentials)
}

func invalidResetTokenError() error {
	return oops.Code(string(KindInvalidResetToken)).Errorf(msgInvalidResetToken)
}

func alreadyExistsError() error {
	return oops.Code(string(KindAlreadyExists)).Errorf(msgAlreadyExists)
}

func conflictError() error {
	return oops.Code(string(KindConflict)).Errorf(msgConflict)
}

// internalError returns a fresh error that hides the cause from callers. The
// cause is expected to have been logged already.
func internalError(operation string) error {
	return oops.Code(string(KindInternal)).
		With("operation", operation).
		Errorf(msgInternal)
}
