package tools

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	agerr "github.com/synthagora/agora/pkg/errors"
)

func likeTool() Definition {
	return Definition{
		Name:        "like_post",
		Description: "Like a post",
		Params:      []Param{{Name: "title", Type: PostReference, Required: true}},
		Operation:   "like_post",
		Mapping:     []Binding{BindAgent("username"), Bind("post_id", "title")},
	}
}

func TestRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(likeTool()); err != nil {
		t.Fatalf("register: %v", err)
	}
	def, ok := r.Resolve("like_post")
	if !ok {
		t.Fatalf("expected like_post to resolve")
	}
	if diff := cmp.Diff(likeTool(), def); diff != "" {
		t.Fatalf("resolved definition differs (-want +got):\n%s", diff)
	}
	if _, ok := r.Resolve("dance"); ok {
		t.Fatalf("expected unknown tool to be absent")
	}
}

func TestResolveReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(likeTool())
	def, _ := r.Resolve("like_post")
	def.Params[0].Name = "mutated"
	def.Mapping[0].Arg = "mutated"

	again, _ := r.Resolve("like_post")
	if again.Params[0].Name != "title" || again.Mapping[0].Arg != "username" {
		t.Fatalf("registry definition was mutated through a resolved copy: %+v", again)
	}
}

func TestReRegisterReplacesInPlace(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{Name: "a", Operation: "op_a"})
	r.MustRegister(likeTool())
	r.MustRegister(Definition{Name: "c", Operation: "op_c"})

	replacement := likeTool()
	replacement.Description = "Show appreciation"
	if err := r.Register(replacement); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if diff := cmp.Diff([]string{"a", "like_post", "c"}, r.Names()); diff != "" {
		t.Fatalf("order changed (-want +got):\n%s", diff)
	}
	def, _ := r.Resolve("like_post")
	if def.Description != "Show appreciation" {
		t.Fatalf("expected last registration to win, got %q", def.Description)
	}
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name string
		def  Definition
	}{
		{name: "empty name", def: Definition{Operation: "x"}},
		{name: "no operation", def: Definition{Name: "x"}},
		{name: "duplicate params", def: Definition{
			Name: "x", Operation: "x",
			Params: []Param{{Name: "a", Type: FreeText}, {Name: "a", Type: FreeText}},
		}},
		{name: "undeclared mapping", def: Definition{
			Name: "x", Operation: "x",
			Params:  []Param{{Name: "a", Type: FreeText}},
			Mapping: []Binding{Bind("arg", "b")},
		}},
		{name: "enum without choices", def: Definition{
			Name: "x", Operation: "x",
			Params: []Param{{Name: "kind", Type: Enum}},
		}},
		{name: "unknown type", def: Definition{
			Name: "x", Operation: "x",
			Params: []Param{{Name: "a", Type: "blob"}},
		}},
		{name: "argument mapped twice", def: Definition{
			Name: "x", Operation: "x",
			Params:  []Param{{Name: "a", Type: FreeText}},
			Mapping: []Binding{Bind("arg", "a"), BindAgent("arg")},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tc.def)
			if !agerr.HasCode(err, agerr.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if r.Len() != 0 {
				t.Fatalf("invalid definition was registered")
			}
		})
	}
}

func TestListSchemasIsStable(t *testing.T) {
	r := DefaultRegistry()
	first := r.ListSchemas()
	second := r.ListSchemas()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("schemas changed between calls (-first +second):\n%s", diff)
	}
	if first[0].Name != "create_post" {
		t.Fatalf("expected registration order, got %s first", first[0].Name)
	}

	raw, err := json.Marshal(first[2])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"name":"like_post","description":"Like a post you have seen","parameters":[{"name":"title","type":"post_reference","required":true,"description":"Title of the post to like"}]}`
	if string(raw) != want {
		t.Fatalf("unexpected descriptor json:\n got %s\nwant %s", raw, want)
	}
}

func TestDefaultRegistryOperations(t *testing.T) {
	r := DefaultRegistry()
	if r.Len() != len(DefaultDefinitions()) {
		t.Fatalf("expected %d tools, got %d", len(DefaultDefinitions()), r.Len())
	}
	react, ok := r.Resolve("react_to_post")
	if !ok {
		t.Fatalf("react_to_post missing")
	}
	p, _ := react.Param("reaction_type")
	if diff := cmp.Diff([]string{"like", "dislike", "love", "laugh"}, p.Choices); diff != "" {
		t.Fatalf("unexpected reaction choices (-want +got):\n%s", diff)
	}
}

func TestLLMTools(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Definition{
		Name:      "search_posts",
		Operation: "search_posts",
		Params: []Param{
			{Name: "query", Type: FreeText, Required: true},
			{Name: "limit", Type: Integer, Default: 10},
		},
	})
	tools := r.LLMTools()
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	schema, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("expected map schema, got %T", tools[0].Function.Parameters)
	}
	if diff := cmp.Diff([]string{"query"}, schema["required"]); diff != "" {
		t.Fatalf("unexpected required list (-want +got):\n%s", diff)
	}
	props := schema["properties"].(map[string]any)
	if props["limit"].(map[string]any)["type"] != "integer" {
		t.Fatalf("expected integer limit, got %v", props["limit"])
	}
}
