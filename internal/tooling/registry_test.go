package tooling

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func noop(ctx context.Context, args map[string]any, ec ExecContext) (any, error) { return nil, nil }

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		Tool{Name: "a", Handler: HandlerFunc(noop)},
		Tool{Name: "a", Handler: HandlerFunc(noop)},
	)
	if err == nil || !strings.Contains(err.Error(), "registered twice") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if _, err := NewRegistry(Tool{Name: "b"}); err == nil {
		t.Fatal("a tool without handler should be rejected")
	}
}

func TestDefinitions(t *testing.T) {
	r := mustRegistry(Tool{
		Name:        "search",
		Description: "Search things.",
		Params: []Param{
			{Name: "query", Type: TypeString, Required: true},
			{Name: "mode", Type: TypeString, Enum: []any{"fast", "full"}},
			{Name: "filters", Type: TypeObject, Properties: []Param{{Name: "lang", Type: TypeString, Required: true}}},
		},
		Handler: HandlerFunc(noop),
	})
	defs := r.Definitions()
	if len(defs) != 1 || defs[0].Type != "function" || defs[0].Function.Name != "search" {
		t.Fatalf("unexpected definitions %+v", defs)
	}
	params := defs[0].Function.Parameters
	if diff := cmp.Diff([]string{"query"}, params["required"]); diff != "" {
		t.Fatalf("required mismatch (-want +got):\n%s", diff)
	}

	if _, err := r.ValidateArgs("search", map[string]any{"query": "x", "mode": "slow"}); err == nil {
		t.Fatal("enum violation should fail")
	}
	if _, err := r.ValidateArgs("search", map[string]any{"query": "x", "filters": map[string]any{}}); err == nil {
		t.Fatal("nested required property should be enforced")
	}
	got, err := r.ValidateArgs("search", map[string]any{"query": "x", "mode": "fast"})
	if err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"query": "x", "mode": "fast"}, got); diff != "" {
		t.Fatalf("normalized args mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultsAreFilled(t *testing.T) {
	r := mustRegistry(Tool{
		Name:    "ls",
		Params:  []Param{{Name: "path", Type: TypeString, Default: "."}},
		Handler: HandlerFunc(noop),
	})
	got, err := r.ValidateArgs("ls", nil)
	if err != nil {
		t.Fatalf("ValidateArgs: %v", err)
	}
	if got["path"] != "." {
		t.Fatalf("default not filled: %v", got)
	}
}

func TestParseCall(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want Call
	}{
		{
			name: "flat map",
			raw:  map[string]any{"id": "1", "name": "read_file", "arguments": map[string]any{"path": "a"}},
			want: Call{ID: "1", Name: "read_file", Arguments: map[string]any{"path": "a"}},
		},
		{
			name: "function form with string arguments",
			raw:  `{"id":"2","type":"function","function":{"name":"glob","arguments":"{\"pattern\":\"*.go\"}"}}`,
			want: Call{ID: "2", Name: "glob", Arguments: map[string]any{"pattern": "*.go"}},
		},
		{
			name: "input key",
			raw:  []byte(`{"id":"3","name":"list_directory","input":{}}`),
			want: Call{ID: "3", Name: "list_directory", Arguments: map[string]any{}},
		},
		{
			name: "empty argument string",
			raw:  Call{ID: "4", Name: "list_directory"},
			want: Call{ID: "4", Name: "list_directory", Arguments: map[string]any{}},
		},
	}
	for _, tt := range tests {
		got, err := ParseCall(tt.raw)
		if err != nil {
			t.Fatalf("%s: ParseCall: %v", tt.name, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("%s: mismatch (-want +got):\n%s", tt.name, diff)
		}
	}

	for _, raw := range []any{`{"name":`, map[string]any{"arguments": "{}"}, map[string]any{"name": "x", "arguments": 5}, 42} {
		if _, err := ParseCall(raw); err == nil {
			t.Fatalf("ParseCall(%v): expected error", raw)
		}
	}

	got, err := ParseCall(map[string]any{"name": "x"})
	if err != nil || got.ID == "" {
		t.Fatalf("expected generated id, got %+v, %v", got, err)
	}
}

func TestResultMarkdown(t *testing.T) {
	res := Result{ToolName: "glob", Status: StatusOK, Content: []any{"a.go"}}
	md := res.Markdown()
	if !strings.Contains(md, "```json") || !strings.Contains(md, `"a.go"`) {
		t.Fatalf("unexpected markdown:\n%s", md)
	}
}
