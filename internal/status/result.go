// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package status

// Result is the envelope every process-boundary operation returns.
type Result[T any] struct {
	Data    T      `json:"data"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// OK wraps data in a successful result.
func OK[T any](data T) Result[T] {
	return Result[T]{Data: data, Code: C200, Message: C200.Message(), Success: true}
}

// Fail builds a failed result from err.
func Fail[T any](err error) Result[T] {
	code := CodeOf(err)
	return Result[T]{Code: code, Message: code.Message(), Success: false}
}

// Warn returns data as a success that still carries the code of a soft
// failure, so callers can surface it without discarding the data.
func Warn[T any](data T, err error) Result[T] {
	if err == nil {
		return OK(data)
	}
	code := CodeOf(err)
	return Result[T]{Data: data, Code: code, Message: code.Message(), Success: true}
}
