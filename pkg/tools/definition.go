// Copyright 2026 © The Agora Authors
// SPDX-License-Identifier: Apache-2.0

// Package tools declares the semantic tool vocabulary agents act through.
//
// A Definition names a tool, its typed parameters and a declarative binding
// onto one data facade operation. Definitions are plain values: the registry
// stores copies and hands out copies, so a registered tool never changes.
package tools

// ParamType is the semantic type of a tool parameter.
type ParamType string

const (
	// PostReference is a human-readable post title resolved against agent context.
	PostReference ParamType = "post_reference"
	// UserReference is a username resolved against agent context.
	UserReference ParamType = "user_reference"
	// CommunityReference is a community name resolved against agent context.
	CommunityReference ParamType = "community_reference"
	FreeText           ParamType = "text"
	Integer            ParamType = "integer"
	Enum               ParamType = "enum"
)

// IsReference reports whether values of t must be resolved to a concrete target.
func (t ParamType) IsReference() bool {
	switch t {
	case PostReference, UserReference, CommunityReference:
		return true
	}
	return false
}

func (t ParamType) valid() bool {
	switch t {
	case PostReference, UserReference, CommunityReference, FreeText, Integer, Enum:
		return true
	}
	return false
}

// Param is one declared tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Default     any
	Description string
	// Choices lists the accepted values of an Enum parameter.
	Choices []string
}

// SourceKind says where a facade argument takes its value from.
type SourceKind int

const (
	// FromParam copies the resolved value of a declared parameter.
	FromParam SourceKind = iota
	// FromAgent supplies the acting agent's username.
	FromAgent
	// FromConst supplies a fixed value.
	FromConst
)

// Binding maps one facade argument to its source.
type Binding struct {
	Arg    string
	Source SourceKind
	Param  string
	Value  any
}

// Bind maps facade argument arg to parameter param.
func Bind(arg, param string) Binding { return Binding{Arg: arg, Source: FromParam, Param: param} }

// BindAgent maps facade argument arg to the acting agent.
func BindAgent(arg string) Binding { return Binding{Arg: arg, Source: FromAgent} }

// BindConst maps facade argument arg to a constant.
func BindConst(arg string, v any) Binding { return Binding{Arg: arg, Source: FromConst, Value: v} }

// Definition describes one semantic tool.
type Definition struct {
	Name        string
	Description string
	Params      []Param
	// Operation is the name of the facade operation backing the tool.
	Operation string
	Mapping   []Binding
	// Confirm optionally replaces the facade message on success. "{param}"
	// placeholders expand to resolved parameter labels and "{result}" to the
	// facade message.
	Confirm string
}

// Param returns the declared parameter with the given name.
func (d Definition) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

func (d Definition) clone() Definition {
	out := d
	out.Params = make([]Param, len(d.Params))
	for i, p := range d.Params {
		p.Choices = append([]string(nil), p.Choices...)
		out.Params[i] = p
	}
	out.Mapping = append([]Binding(nil), d.Mapping...)
	return out
}
