package tooling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry is built once and never mutated afterwards.
type Registry struct {
	tools       map[string]*entry
	names       []string
	definitions []ToolDefinition
}

type entry struct {
	tool   Tool
	params map[string]Param
	schema *jsonschema.Schema
}

// NewRegistry compiles every tool's argument schema. Duplicate or empty
// names and tools without a handler are rejected.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]*entry, len(tools))}
	for _, tool := range tools {
		if strings.TrimSpace(tool.Name) == "" {
			return nil, fmt.Errorf("tool name must not be empty")
		}
		if _, dup := r.tools[tool.Name]; dup {
			return nil, fmt.Errorf("tool %s registered twice", tool.Name)
		}
		if tool.Handler == nil {
			return nil, fmt.Errorf("tool %s has no handler", tool.Name)
		}
		def := tool.Definition()
		sch, err := compileSchema(tool.Name, def.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", tool.Name, err)
		}
		params := make(map[string]Param, len(tool.Params))
		for _, p := range tool.Params {
			if _, dup := params[p.Name]; dup {
				return nil, fmt.Errorf("tool %s: parameter %s declared twice", tool.Name, p.Name)
			}
			params[p.Name] = p
		}
		r.tools[tool.Name] = &entry{tool: tool, params: params, schema: sch}
		r.names = append(r.names, tool.Name)
		r.definitions = append(r.definitions, def)
	}
	sort.Strings(r.names)
	return r, nil
}

func compileSchema(name string, params map[string]any) (*jsonschema.Schema, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	url := name + ".json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema compile error: %w", err)
	}
	return sch, nil
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	e, ok := r.tools[name]
	if !ok {
		return Tool{}, false
	}
	return e.tool, true
}

// Names returns tool names sorted.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Definitions returns definitions in registration order.
func (r *Registry) Definitions() []ToolDefinition {
	out := make([]ToolDefinition, len(r.definitions))
	copy(out, r.definitions)
	return out
}

// ValidateArgs checks args against the tool's parameters and returns a
// normalized copy with defaults filled in.
func (r *Registry) ValidateArgs(name string, args map[string]any) (map[string]any, error) {
	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("Tool '%s' not found", name)
	}
	return e.validate(args)
}

func (e *entry) validate(args map[string]any) (map[string]any, error) {
	normalized, err := normalizeJSON(args)
	if err != nil {
		return nil, fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	for _, p := range e.tool.Params {
		if _, present := normalized[p.Name]; present {
			continue
		}
		if p.Required {
			return nil, fmt.Errorf("missing required argument %q", p.Name)
		}
	}

	unknown := make([]string, 0)
	for key := range normalized {
		if _, ok := e.params[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown argument(s): %s", strings.Join(unknown, ", "))
	}

	for _, p := range e.tool.Params {
		v, present := normalized[p.Name]
		if !present {
			continue
		}
		if got := jsonType(v); !typeMatches(p.Type, got) {
			return nil, fmt.Errorf("argument %q must be %s, got %s", p.Name, p.Type, got)
		}
	}

	if err := e.schema.Validate(any(normalized)); err != nil {
		return nil, fmt.Errorf("schema validation failed: %v", err)
	}

	for _, p := range e.tool.Params {
		if _, present := normalized[p.Name]; !present && p.Default != nil {
			normalized[p.Name] = p.Default
		}
	}
	return normalized, nil
}

// normalizeJSON turns any Go values into plain JSON values.
func normalizeJSON(args map[string]any) (map[string]any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonType(v any) string {
	switch n := v.(type) {
	case nil:
		return "null"
	case bool:
		return TypeBoolean
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return TypeInteger
		}
		return TypeNumber
	case string:
		return TypeString
	case []any:
		return TypeArray
	case map[string]any:
		return TypeObject
	default:
		return fmt.Sprintf("%T", v)
	}
}

func typeMatches(want, got string) bool {
	return want == got || (want == TypeNumber && got == TypeInteger)
}
