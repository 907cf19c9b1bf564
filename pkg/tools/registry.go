// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

package tools

import (
	"sync"

	agerr "github.com/synthagora/agora/pkg/errors"
	"github.com/synthagora/agora/pkg/llm"
)

// ParamDescriptor is the exported schema of one parameter.
type ParamDescriptor struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Descriptor is the exported schema of one tool.
type Descriptor struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  []ParamDescriptor `json:"parameters"`
}

// Registry maps tool names to definitions and remembers registration order.
// Registration is a setup-time activity; lookups are safe from any goroutine.
type Registry struct {
	mu    sync.RWMutex
	defs  map[string]Definition
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register validates def and inserts it, replacing any tool of the same name
// in place.
func (r *Registry) Register(def Definition) error {
	if err := Validate(def); err != nil {
		return err
	}
	def = def.clone()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// MustRegister registers def and panics on validation failure.
func (r *Registry) MustRegister(def Definition) {
	if err := r.Register(def); err != nil {
		panic(err)
	}
}

// Resolve returns the definition registered under name.
func (r *Registry) Resolve(name string) (Definition, bool) {
	r.mu.RLock()
	def, ok := r.defs[name]
	r.mu.RUnlock()
	if !ok {
		return Definition{}, false
	}
	return def.clone(), true
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ListSchemas describes every tool in registration order.
func (r *Registry) ListSchemas() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, describe(r.defs[name]))
	}
	return out
}

// LLMTools renders the schemas as function tools for chat providers.
func (r *Registry) LLMTools() []llm.Tool {
	schemas := r.ListSchemas()
	out := make([]llm.Tool, 0, len(schemas))
	for _, d := range schemas {
		out = append(out, llm.Tool{
			Type: llm.ToolTypeFunction,
			Function: llm.FunctionDef{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  JSONSchema(d),
			},
		})
	}
	return out
}

// Filtered returns a new registry holding the tools f allows, in the same order.
func (r *Registry) Filtered(f *Filter) *Registry {
	out := NewRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		if f == nil || f.Allowed(name) {
			out.defs[name] = r.defs[name]
			out.order = append(out.order, name)
		}
	}
	return out
}

func describe(def Definition) Descriptor {
	d := Descriptor{Name: def.Name, Description: def.Description, Parameters: make([]ParamDescriptor, 0, len(def.Params))}
	for _, p := range def.Params {
		d.Parameters = append(d.Parameters, ParamDescriptor{
			Name:        p.Name,
			Type:        string(p.Type),
			Required:    p.Required,
			Description: p.Description,
			Enum:        append([]string(nil), p.Choices...),
		})
	}
	return d
}

// JSONSchema renders a descriptor's parameters as a JSON schema object.
func JSONSchema(d Descriptor) map[string]any {
	props := make(map[string]any, len(d.Parameters))
	required := make([]string, 0)
	for _, p := range d.Parameters {
		prop := map[string]any{"type": "string"}
		if p.Type == string(Integer) {
			prop["type"] = "integer"
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// Validate checks that a definition is internally consistent.
func Validate(def Definition) error {
	invalid := func(format string, args ...any) error {
		return agerr.Newf(agerr.CodeValidation, format, args...).WithContext("tool", def.Name)
	}
	if def.Name == "" {
		return invalid("tool name is required")
	}
	if def.Operation == "" {
		return invalid("tool %q has no operation", def.Name)
	}
	declared := make(map[string]bool, len(def.Params))
	for _, p := range def.Params {
		if p.Name == "" {
			return invalid("tool %q has a parameter without a name", def.Name)
		}
		if declared[p.Name] {
			return invalid("tool %q declares parameter %q twice", def.Name, p.Name)
		}
		declared[p.Name] = true
		if !p.Type.valid() {
			return invalid("parameter %q of tool %q has unknown type %q", p.Name, def.Name, p.Type)
		}
		if p.Type == Enum && len(p.Choices) == 0 {
			return invalid("enum parameter %q of tool %q has no choices", p.Name, def.Name)
		}
	}
	bound := make(map[string]bool, len(def.Mapping))
	for _, b := range def.Mapping {
		if b.Arg == "" {
			return invalid("tool %q maps an unnamed argument", def.Name)
		}
		if bound[b.Arg] {
			return invalid("tool %q maps argument %q twice", def.Name, b.Arg)
		}
		bound[b.Arg] = true
		if b.Source == FromParam && !declared[b.Param] {
			return invalid("tool %q maps argument %q to undeclared parameter %q", def.Name, b.Arg, b.Param)
		}
	}
	return nil
}
