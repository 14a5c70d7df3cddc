package tooling

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Call is a normalized tool call.
type Call struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseCall accepts a Call, a map, or JSON text/bytes in either the flat
// {"id","name","arguments"} form or the function-calling form
// {"id","function":{"name","arguments"}}. Arguments may themselves be a
// JSON string. A missing id is generated.
func ParseCall(raw any) (Call, error) {
	var call Call
	switch v := raw.(type) {
	case Call:
		call = v
		call.Arguments = cloneArgs(v.Arguments)
	case *Call:
		if v == nil {
			return Call{}, errors.New("tool call is nil")
		}
		call = *v
		call.Arguments = cloneArgs(v.Arguments)
	case map[string]any:
		parsed, err := parseCallMap(v)
		if err != nil {
			return Call{}, err
		}
		call = parsed
	case string:
		return parseCallJSON([]byte(v))
	case []byte:
		return parseCallJSON(v)
	case json.RawMessage:
		return parseCallJSON(v)
	default:
		return Call{}, fmt.Errorf("unsupported tool call type %T", raw)
	}
	return finishCall(call)
}

func parseCallJSON(data []byte) (Call, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Call{}, fmt.Errorf("malformed tool call: %w", err)
	}
	call, err := parseCallMap(m)
	if err != nil {
		return Call{}, err
	}
	return finishCall(call)
}

func parseCallMap(m map[string]any) (Call, error) {
	var call Call
	if id, ok := m["id"].(string); ok {
		call.ID = id
	}
	source := m
	if fn, ok := m["function"].(map[string]any); ok {
		source = fn
	}
	name, _ := source["name"].(string)
	call.Name = name

	rawArgs, ok := source["arguments"]
	if !ok {
		rawArgs = source["input"]
	}
	args, err := parseArguments(rawArgs)
	if err != nil {
		return Call{}, err
	}
	call.Arguments = args
	return call, nil
}

func parseArguments(raw any) (map[string]any, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return cloneArgs(v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]any{}, nil
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(v), &args); err != nil {
			return nil, fmt.Errorf("malformed tool arguments: %w", err)
		}
		if args == nil {
			args = map[string]any{}
		}
		return args, nil
	default:
		return nil, fmt.Errorf("tool arguments must be an object, got %T", raw)
	}
}

func finishCall(call Call) (Call, error) {
	call.Name = strings.TrimSpace(call.Name)
	if call.Name == "" {
		return Call{}, errors.New("tool call has no name")
	}
	if call.ID == "" {
		call.ID = uuid.NewString()
	}
	if call.Arguments == nil {
		call.Arguments = map[string]any{}
	}
	return call, nil
}

func cloneArgs(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
