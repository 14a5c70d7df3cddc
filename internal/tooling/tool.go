// Package tooling holds the tool catalogue and the executor that takes an
// untrusted tool call from a model through validation, security checks,
// supervised dispatch and output sanitization.
package tooling

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"warden/internal/security"
)

// ToolDefinition is the function-calling shape sent to a model.
type ToolDefinition struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Parameter types.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Param describes one argument. Items applies to arrays, Properties to
// objects.
type Param struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Default     any
	Enum        []any
	Items       *Param
	Properties  []Param
}

func (p Param) schema() map[string]any {
	s := map[string]any{"type": p.Type}
	if p.Description != "" {
		s["description"] = p.Description
	}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	if p.Default != nil {
		s["default"] = p.Default
	}
	if p.Type == TypeArray && p.Items != nil {
		s["items"] = p.Items.schema()
	}
	if p.Type == TypeObject && len(p.Properties) > 0 {
		props, required := objectSchema(p.Properties)
		s["properties"] = props
		if len(required) > 0 {
			s["required"] = required
		}
	}
	return s
}

func objectSchema(params []Param) (map[string]any, []string) {
	props := make(map[string]any, len(params))
	required := make([]string, 0)
	for _, p := range params {
		props[p.Name] = p.schema()
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return props, required
}

// ExecContext is the per-invocation context. ProjectRoot may be left empty
// when SessionID can be resolved through a session directory.
type ExecContext struct {
	SessionID   string
	ProjectRoot string
	Timeout     time.Duration
	GrantedTier security.Tier
	Consented   []string
}

// Handler executes a validated call.
type Handler interface {
	Execute(ctx context.Context, args map[string]any, ec ExecContext) (any, error)
}

type HandlerFunc func(ctx context.Context, args map[string]any, ec ExecContext) (any, error)

func (f HandlerFunc) Execute(ctx context.Context, args map[string]any, ec ExecContext) (any, error) {
	return f(ctx, args, ec)
}

// Tool is one catalogue entry.
type Tool struct {
	Name            string
	Description     string
	Params          []Param
	Handler         Handler
	Tier            security.Tier
	RequiresConsent bool
	// Isolated tools run in a separate worker process when the executor
	// has an isolation executor.
	Isolated bool
	Timeout  time.Duration
}

// Definition renders the tool for a model.
func (t Tool) Definition() ToolDefinition {
	props, required := objectSchema(t.Params)
	params := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		params["required"] = required
	}
	return ToolDefinition{
		Type: "function",
		Function: ToolFunction{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  params,
		},
	}
}

type Status string

const (
	StatusOK      Status = "ok"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Result is produced for every invocation, whatever happened.
type Result struct {
	ToolCallID string        `json:"tool_call_id"`
	ToolName   string        `json:"tool_name"`
	Status     Status        `json:"status"`
	Content    any           `json:"content"`
	Duration   time.Duration `json:"duration_ns"`
}

// Text renders Content as a string: strings verbatim, anything else as
// indented JSON.
func (r Result) Text() string {
	switch v := r.Content.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// Markdown renders the result for terminal display.
func (r Result) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### `%s` %s (%s)\n\n", r.ToolName, r.Status, r.Duration.Round(time.Millisecond))
	text := r.Text()
	if text == "" {
		sb.WriteString("_no output_\n")
		return sb.String()
	}
	lang := ""
	if _, ok := r.Content.(string); !ok {
		lang = "json"
	}
	fmt.Fprintf(&sb, "```%s\n%s\n```\n", lang, strings.TrimRight(text, "\n"))
	return sb.String()
}

func stringSliceArg(args map[string]any, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for idx, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] is not a string", key, idx)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array of strings", key)
	}
}

func stringArg(args map[string]any, key string) (string, bool) {
	val, ok := args[key]
	if !ok || val == nil {
		return "", false
	}
	switch cast := val.(type) {
	case string:
		return cast, true
	default:
		return fmt.Sprintf("%v", cast), true
	}
}

func boolArg(args map[string]any, key string, defaultVal bool) bool {
	val, ok := args[key]
	if !ok {
		return defaultVal
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return defaultVal
}

func intArg(args map[string]any, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch n := val.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	}
	return defaultVal
}
