// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"

	agerr "github.com/synthagora/agora/pkg/errors"
)

// CLIError wraps AgoraError with a hint for the operator.
type CLIError struct {
	*agerr.AgoraError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(ae *agerr.AgoraError, hint string) *CLIError {
	return &CLIError{AgoraError: ae, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.AgoraError == nil {
		return "unknown error"
	}
	msg := e.AgoraError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error { return e.AgoraError }

// NewConfigError reports a configuration that could not be loaded.
func NewConfigError(err error, configPath string) *CLIError {
	ae := agerr.New(agerr.CodeValidation, "configuration error", err).WithContext("config_path", configPath)
	hint := "check the values passed with --set and the AGORA_ environment"
	if configPath != "" {
		hint = fmt.Sprintf("check %s and the values passed with --set", configPath)
	}
	return NewCLIError(ae, hint)
}

// NewStoreError reports a database that could not be opened.
func NewStoreError(err error, path string) *CLIError {
	ae := agerr.New(agerr.CodeInternal, "cannot open store", err).WithContext("path", path)
	return NewCLIError(ae, fmt.Sprintf("check that %s is writable or set store.path", path))
}

// NewNotFoundError reports a missing user, scenario or similar resource.
func NewNotFoundError(err error, resource, name string) *CLIError {
	ae := agerr.New(agerr.CodeNotFound, fmt.Sprintf("%s %q not found", resource, name), err).
		WithContext("resource", resource)
	return NewCLIError(ae, fmt.Sprintf("check that the %s exists; seed it with 'agora run --scenario'", resource))
}

// printError writes err to w, as JSON when asJSON is set.
func printError(w io.Writer, err error, asJSON bool) {
	var cliErr *CLIError
	var ae *agerr.AgoraError
	switch {
	case errors.As(err, &cliErr):
	case errors.As(err, &ae):
		cliErr = NewCLIError(ae, "")
	default:
		// Flag and argument errors from cobra.
		cliErr = NewCLIError(agerr.New(agerr.CodeInvalidInput, err.Error(), nil), "run 'agora --help' for usage")
	}
	msg := cliErr.Message
	if cliErr.Err != nil {
		msg += ": " + cliErr.Err.Error()
	}
	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
			"code":    cliErr.Code,
			"message": msg,
			"hint":    cliErr.Hint,
		}})
		return
	}
	red := color.New(color.FgRed, color.Bold)
	red.Fprintf(w, "Error [%s]: ", FormatErrorCode(cliErr.Code))
	fmt.Fprintln(w, msg)
	if cliErr.Hint != "" {
		color.New(color.FgYellow).Fprintf(w, "  Hint: %s\n", cliErr.Hint)
	}
}

// FormatErrorCode returns a readable name for an error code.
func FormatErrorCode(code agerr.ErrorCode) string {
	switch code {
	case agerr.CodeInternal:
		return "Internal Error"
	case agerr.CodeInvalidInput:
		return "Invalid Input"
	case agerr.CodeValidation:
		return "Invalid Configuration"
	case agerr.CodeNotFound:
		return "Not Found"
	case agerr.CodeConflict:
		return "Conflict"
	case agerr.CodePermissionDenied:
		return "Permission Denied"
	case agerr.CodeTimeout:
		return "Timeout"
	case agerr.CodeToolFailure:
		return "Tool Failure"
	case agerr.CodeLLMError:
		return "LLM Error"
	case agerr.CodeContextLost:
		return "Cancelled"
	default:
		return string(code)
	}
}
