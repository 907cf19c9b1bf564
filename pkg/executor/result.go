// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/tracker"
)

// Outcome names the variant of a Result.
type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeUnknownTool        Outcome = "unknown_tool"
	OutcomeUnresolvedArgument Outcome = "unresolved_argument"
	OutcomeExecutionFailed    Outcome = "execution_failed"
)

// Result is the outcome of one tool call. It is one of Success, UnknownTool,
// UnresolvedArgument or ExecutionFailed.
type Result interface {
	Outcome() Outcome
	// Text is the message shown back to the acting agent.
	Text() string
	isResult()
}

// Success reports a completed facade operation.
type Success struct {
	Tool    string
	Message string
	Payload any
	Action  tracker.ActionRecord
}

func (Success) Outcome() Outcome { return OutcomeSuccess }
func (s Success) Text() string   { return s.Message }
func (Success) isResult()        {}

// UnknownTool reports a call naming no registered tool.
type UnknownTool struct {
	Name string
}

func (UnknownTool) Outcome() Outcome { return OutcomeUnknownTool }
func (u UnknownTool) Text() string {
	return fmt.Sprintf("There is no tool called %q.", u.Name)
}
func (UnknownTool) isResult() {}

// Reason explains why an argument could not be bound.
type Reason string

const (
	ReasonNotFound  Reason = "not_found"
	ReasonAmbiguous Reason = "ambiguous"
	ReasonMissing   Reason = "missing"
	ReasonInvalid   Reason = "invalid"
)

// UnresolvedArgument reports an argument that could not be bound to a value.
// Nothing was written.
type UnresolvedArgument struct {
	Tool      string
	Parameter string
	Reason    Reason
	// Value is the text the agent supplied, if any.
	Value      string
	Detail     string
	Candidates []tracker.Target
}

func (UnresolvedArgument) Outcome() Outcome { return OutcomeUnresolvedArgument }

func (u UnresolvedArgument) Text() string {
	switch u.Reason {
	case ReasonMissing:
		return fmt.Sprintf("Missing required argument %q for %s.", u.Parameter, u.Tool)
	case ReasonInvalid:
		if u.Parameter == "" {
			return fmt.Sprintf("Invalid arguments for %s: %s.", u.Tool, u.Detail)
		}
		return fmt.Sprintf("Invalid value for %q: %s.", u.Parameter, u.Detail)
	case ReasonAmbiguous:
		labels := make([]string, 0, len(u.Candidates))
		for _, c := range u.Candidates {
			labels = append(labels, describeTarget(c))
		}
		return fmt.Sprintf("%q matches several items: %s. Please be more specific.", u.Value, strings.Join(labels, ", "))
	default:
		return fmt.Sprintf("Could not find %q among what you have seen or done recently.", u.Value)
	}
}

func (UnresolvedArgument) isResult() {}

// Kind classifies an execution failure.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindPermissionDenied Kind = "permission_denied"
	KindInvalidInput     Kind = "invalid_input"
	KindInternal         Kind = "internal"
	KindCancelled        Kind = "cancelled"
)

// ExecutionFailed reports a facade operation that did not complete.
type ExecutionFailed struct {
	Tool   string
	Kind   Kind
	Detail string
}

func (ExecutionFailed) Outcome() Outcome { return OutcomeExecutionFailed }

func (f ExecutionFailed) Text() string {
	switch f.Kind {
	case KindCancelled:
		return fmt.Sprintf("%s was not run: the turn was cancelled.", f.Tool)
	case KindInternal:
		return fmt.Sprintf("%s failed because of an internal error.", f.Tool)
	}
	if f.Detail == "" {
		return fmt.Sprintf("%s failed (%s).", f.Tool, f.Kind)
	}
	return fmt.Sprintf("%s failed (%s): %s", f.Tool, f.Kind, f.Detail)
}

func (ExecutionFailed) isResult() {}

// KindOf maps a facade error to its failure kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	switch agerr.CodeOf(err) {
	case agerr.CodeNotFound:
		return KindNotFound
	case agerr.CodeConflict:
		return KindConflict
	case agerr.CodePermissionDenied:
		return KindPermissionDenied
	case agerr.CodeInvalidInput, agerr.CodeValidation:
		return KindInvalidInput
	case agerr.CodeTimeout, agerr.CodeContextLost:
		return KindCancelled
	default:
		return KindInternal
	}
}

func failure(tool string, err error) ExecutionFailed {
	detail := err.Error()
	var ae *agerr.AgoraError
	if errors.As(err, &ae) {
		detail = ae.Message
	}
	return ExecutionFailed{Tool: tool, Kind: KindOf(err), Detail: detail}
}

func describeTarget(t tracker.Target) string {
	switch t.Kind {
	case tracker.KindUser:
		return "@" + t.Label
	case tracker.KindPost:
		if t.Author != "" {
			return fmt.Sprintf("%q by @%s (#%d)", t.Label, t.Author, t.ID)
		}
		return fmt.Sprintf("%q (#%d)", t.Label, t.ID)
	default:
		return fmt.Sprintf("%q", t.Label)
	}
}
