// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package memory keeps per-agent transcripts of a simulation: the prompts an
// agent received, what the model answered, and the outcome of each tool call.
package memory

import (
	"context"
	"time"
)

// Roles used in transcripts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ConversationMessage represents a single message in an agent transcript.
type ConversationMessage struct {
	ID         string            `json:"id"`
	SessionID  string            `json:"session_id"`
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
	Turn       int               `json:"turn"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// ConversationMemory stores and retrieves ordered transcripts.
type ConversationMemory interface {
	// AppendMessage adds a message to the session.
	AppendMessage(ctx context.Context, sessionID string, msg ConversationMessage) error

	// GetMessages retrieves all messages for a session in insertion order.
	GetMessages(ctx context.Context, sessionID string) ([]ConversationMessage, error)

	// GetRecentMessages retrieves the last limit messages for a session.
	GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]ConversationMessage, error)

	// Clear removes all messages for a session.
	Clear(ctx context.Context, sessionID string) error
}

// SessionID names the transcript of agent within run.
func SessionID(runID, agent string) string {
	if runID == "" {
		return agent
	}
	return runID + "/" + agent
}

// TruncationStrategy defines how to manage transcript length.
type TruncationStrategy interface {
	Truncate(ctx context.Context, messages []ConversationMessage) ([]ConversationMessage, error)
}

// WindowStrategy keeps only the last N messages.
type WindowStrategy struct {
	MaxMessages int
	// KeepSystemMessages preserves system messages regardless of window.
	KeepSystemMessages bool
}

// NewWindowStrategy creates a window-based truncation strategy.
func NewWindowStrategy(maxMessages int, keepSystem bool) *WindowStrategy {
	return &WindowStrategy{MaxMessages: maxMessages, KeepSystemMessages: keepSystem}
}

// Truncate implements TruncationStrategy. Tool messages left without the
// assistant message that requested them are dropped from the front.
func (w *WindowStrategy) Truncate(_ context.Context, messages []ConversationMessage) ([]ConversationMessage, error) {
	if w.MaxMessages <= 0 || len(messages) <= w.MaxMessages {
		return messages, nil
	}

	var systemMsgs, otherMsgs []ConversationMessage
	for _, msg := range messages {
		if w.KeepSystemMessages && msg.Role == RoleSystem {
			systemMsgs = append(systemMsgs, msg)
		} else {
			otherMsgs = append(otherMsgs, msg)
		}
	}

	available := w.MaxMessages - len(systemMsgs)
	if available < 0 {
		available = 0
	}
	if len(otherMsgs) > available {
		otherMsgs = otherMsgs[len(otherMsgs)-available:]
	}
	otherMsgs = trimOrphanToolMessages(otherMsgs)

	result := make([]ConversationMessage, 0, len(systemMsgs)+len(otherMsgs))
	result = append(result, systemMsgs...)
	result = append(result, otherMsgs...)
	return result, nil
}

// trimOrphanToolMessages drops tool results at the front of a window whose
// assistant message fell outside it. Chat APIs reject such histories.
func trimOrphanToolMessages(messages []ConversationMessage) []ConversationMessage {
	for len(messages) > 0 && messages[0].Role == RoleTool {
		messages = messages[1:]
	}
	return messages
}

// ConversationConfig configures conversation memory behavior.
type ConversationConfig struct {
	// TruncationStrategy to apply when loading messages. Optional.
	TruncationStrategy TruncationStrategy
	// Now is the clock used to stamp messages; defaults to time.Now.
	Now func() time.Time
}

func (c ConversationConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
