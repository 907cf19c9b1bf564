// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"path"
	"strings"
)

// Filter restricts which tools a simulation advertises and executes.
// Patterns are exact names or path.Match globs ("get_*").
type Filter struct {
	allow map[string]bool
	deny  map[string]bool
}

// NewFilter builds a filter from allow and deny patterns. An empty allow
// list admits every tool not denied.
func NewFilter(allow, deny []string) *Filter {
	f := &Filter{allow: make(map[string]bool), deny: make(map[string]bool)}
	f.Allow(allow...)
	f.Deny(deny...)
	return f
}

// Allow adds patterns to the allow list.
func (f *Filter) Allow(patterns ...string) {
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			f.allow[p] = true
		}
	}
}

// Deny adds patterns to the deny list.
func (f *Filter) Deny(patterns ...string) {
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			f.deny[p] = true
		}
	}
}

// Allowed reports whether name passes the filter. Denies win over allows.
func (f *Filter) Allowed(name string) bool {
	if f == nil {
		return true
	}
	if matches(name, f.deny) {
		return false
	}
	return len(f.allow) == 0 || matches(name, f.allow)
}

// Empty reports whether the filter admits everything.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.allow) == 0 && len(f.deny) == 0)
}

func matches(name string, patterns map[string]bool) bool {
	if patterns[name] {
		return true
	}
	for p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
