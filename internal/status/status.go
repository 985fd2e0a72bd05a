// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package status defines the error taxonomy and the result envelope.
package status

import (
	"errors"
	"fmt"
)

// =============================================================================
// RESULT CODES
// =============================================================================

// Code is a stable result code reported across the process boundary.
type Code string

const (
	C200 Code = "C200" // success
	C500 Code = "C500" // unknown failure

	E10001 Code = "E10001" // no content
	E20001 Code = "E20001" // credential not configured
	E20002 Code = "E20002" // inference request failed
	E20003 Code = "E20003" // session could not be created
	E20004 Code = "E20004" // session could not be operated on
	E20005 Code = "E20005" // unsupported session operation
	E20006 Code = "E20006" // session not found
	E20007 Code = "E20007" // session sync failed
	E20008 Code = "E20008" // persistence unavailable
	E20009 Code = "E20009" // operation in progress
	E20010 Code = "E20010" // context window overflow
	E20011 Code = "E20011" // invalid message handle
	E20012 Code = "E20012" // unknown provider
)

var codeMessages = map[Code]string{
	C200:   "success",
	C500:   "unknown error",
	E10001: "no session content found",
	E20001: "provider token is not configured",
	E20002: "request failed, check the network and the configured token",
	E20003: "could not create a session",
	E20004: "could not operate on the session, check permissions and files",
	E20005: "unsupported session operation",
	E20006: "session not found",
	E20007: "session sync failed",
	E20008: "session storage is unavailable, changes may not be saved",
	E20009: "wait for the current generation to finish",
	E20010: "conversation exceeds the configured context limit",
	E20011: "message no longer exists",
	E20012: "unknown provider",
}

// Message returns the human readable text for a code.
func (c Code) Message() string {
	if m, ok := codeMessages[c]; ok {
		return m
	}
	return codeMessages[C500]
}

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrInvalidHandle is returned when a message handle no longer resolves.
	ErrInvalidHandle = errors.New("invalid message handle")

	// ErrContextOverflow is returned by the fail-fast context window policy.
	ErrContextOverflow = errors.New("context window overflow")

	// ErrPersistenceUnavailable marks soft storage failures.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrOperationInProgress is returned when a session already has a
	// generation running.
	ErrOperationInProgress = errors.New("operation in progress")

	// ErrCredentialMissing is returned when the selected provider has no token.
	ErrCredentialMissing = errors.New("provider credential missing")

	// ErrInferenceRequestFailed wraps every failed provider request.
	ErrInferenceRequestFailed = errors.New("inference request failed")

	// ErrUnknownProvider is returned for provider names outside the registry.
	ErrUnknownProvider = errors.New("unknown provider")

	ErrSessionNotFound      = errors.New("session not found")
	ErrSyncFailed           = errors.New("session sync failed")
	ErrUnsupportedOperation = errors.New("unsupported operation")
	ErrNoContent            = errors.New("no content")
)

var sentinelCodes = []struct {
	err  error
	code Code
}{
	{ErrOperationInProgress, E20009},
	{ErrCredentialMissing, E20001},
	{ErrContextOverflow, E20010},
	{ErrInvalidHandle, E20011},
	{ErrUnknownProvider, E20012},
	{ErrInferenceRequestFailed, E20002},
	{ErrSessionNotFound, E20006},
	{ErrSyncFailed, E20007},
	{ErrPersistenceUnavailable, E20008},
	{ErrUnsupportedOperation, E20005},
	{ErrNoContent, E10001},
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error attaches a result code and an operation name to an underlying error.
type Error struct {
	Code Code
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Code.Message()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, msg)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap returns an *Error for op. A nil err yields nil.
func Wrap(code Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf maps any error to its result code. Nil maps to C200.
func CodeOf(err error) Code {
	if err == nil {
		return C200
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	for _, s := range sentinelCodes {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return C500
}
