// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/jeranaias/tinychat/internal/config"
	"github.com/jeranaias/tinychat/internal/status"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates successful execution
	ExitSuccess = 0
	// ExitGeneralError indicates a general/unknown error
	ExitGeneralError = 1
	// ExitUsageError indicates invalid command usage or arguments
	ExitUsageError = 2
	// ExitConfigError indicates configuration file or settings error
	ExitConfigError = 3
	// ExitAuthError indicates a missing provider credential
	ExitAuthError = 4
	// ExitNetworkError indicates the provider request failed
	ExitNetworkError = 5
	// ExitStorageError indicates session files could not be read or written
	ExitStorageError = 6
	// ExitNotFoundError indicates a session was not found
	ExitNotFoundError = 7
	// ExitBusyError indicates another operation is running on the session
	ExitBusyError = 8
)

// UsageError reports invalid arguments.
type UsageError struct {
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	if e.Example != "" {
		return fmt.Sprintf("%s\nExample: %s", e.Reason, e.Example)
	}
	return e.Reason
}

// usageErr builds a UsageError.
func usageErr(reason, example string) error {
	return &UsageError{Reason: reason, Example: example}
}

// ExitCodeFor maps an error returned by a command to an exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var ue *UsageError
	if errors.As(err, &ue) {
		return ExitUsageError
	}
	var ve config.ValidateErrors
	if errors.As(err, &ve) {
		return ExitConfigError
	}

	switch status.CodeOf(err) {
	case status.E20001:
		return ExitAuthError
	case status.E20002:
		return ExitNetworkError
	case status.E20003, status.E20004, status.E20007, status.E20008:
		return ExitStorageError
	case status.E20006:
		return ExitNotFoundError
	case status.E20009:
		return ExitBusyError
	case status.E10001, status.E20005, status.E20010, status.E20011, status.E20012:
		return ExitUsageError
	}
	return ExitGeneralError
}
