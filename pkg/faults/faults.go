// Package faults declares the error classes shared by the coordinator,
// the provider gateway, and the HTTP layer. Callers branch with errors.Is.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects bad input before any remote or local mutation.
	ErrValidation = errors.New("validation failed")
	// ErrAuthorizationDenied rejects a caller outside the ownership chain.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrRemoteTransient marks provider failures safe to retry.
	ErrRemoteTransient = errors.New("remote provider unavailable")
	// ErrRemotePermanent marks provider rejections that must not be retried.
	ErrRemotePermanent = errors.New("remote provider rejected request")
	// ErrLocalWriteFailed marks a store failure after a remote mutation
	// already took effect.
	ErrLocalWriteFailed = errors.New("local write failed")
	// ErrThreadFull rejects messages once a thread hit its message ceiling.
	ErrThreadFull = errors.New("thread full")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
)

// Validationf wraps ErrValidation with a caller-facing reason.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrValidation}, args...)...)
}
