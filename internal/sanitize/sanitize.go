// Package sanitize redacts secrets from tool output before it leaves the
// pipeline.
package sanitize

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

const (
	Redacted       = "[REDACTED]"
	DepthTruncated = "[TRUNCATED: max depth]"
	MaxDepth       = 32
)

type rule struct {
	re   *regexp.Regexp
	repl string
}

// Order matters: whole blocks and URLs are replaced before the generic
// key=value rule can split them.
var rules = []rule{
	{regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), Redacted},
	{regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`), Redacted},
	{regexp.MustCompile(`(?i)\b((?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|rediss|amqps?|clickhouse)://)[^\s:/@]+:[^\s@/]+@`), "${1}" + Redacted + "@"},
	{regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{5,}\.eyJ[A-Za-z0-9_-]{5,}\.[A-Za-z0-9_-]+`), Redacted},
	{regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9\-._~+/]{8,}=*`), "${1} " + Redacted},
	{regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{10,}`), Redacted},
	{regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}`), Redacted},
	{regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}`), Redacted},
	{regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}`), Redacted},
	{regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`), Redacted},
	{regexp.MustCompile(`\bxox[abposr]-[A-Za-z0-9-]{10,}`), Redacted},
	{regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}`), Redacted},
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|token|api[_-]?key|access[_-]?key|auth)(\s*[=:]\s*)("?)([^\s"',;]+)`), "${1}${2}${3}" + Redacted},
}

var sensitiveKeys = map[string]struct{}{
	"password": {}, "passwd": {}, "pwd": {}, "secret": {}, "token": {}, "api_key": {}, "apikey": {},
	"access_key": {}, "secret_key": {}, "private_key": {}, "access_token": {}, "refresh_token": {},
	"auth": {}, "authorization": {}, "credentials": {}, "client_secret": {}, "session_token": {},
	"cookie": {}, "set_cookie": {},
}

// IsSensitiveKey reports whether a map key names a secret. Matching is
// case-insensitive and treats '-' like '_'.
func IsSensitiveKey(key string) bool {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "-", "_")
	_, ok := sensitiveKeys[normalized]
	return ok
}

// String redacts secret-shaped substrings.
func String(s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllString(s, r.repl)
	}
	return s
}

// Tagged wraps a result in an ok/error envelope.
type Tagged struct {
	OK    bool `json:"ok"`
	Value any  `json:"value"`
}

// Value returns a sanitized copy of v. Maps, slices and Tagged envelopes
// are walked to MaxDepth; anything else is first normalized through JSON.
func Value(v any) any {
	return walk(v, 0)
}

// Error sanitizes an error message.
func Error(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(String(err.Error()))
}

func walk(v any, depth int) any {
	if depth > MaxDepth {
		return DepthTruncated
	}
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return String(val)
	case []byte:
		return String(string(val))
	case bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return val
	case error:
		return String(val.Error())
	case Tagged:
		return Tagged{OK: val.OK, Value: walk(val.Value, depth+1)}
	case *Tagged:
		if val == nil {
			return nil
		}
		return &Tagged{OK: val.OK, Value: walk(val.Value, depth+1)}
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if IsSensitiveKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = walk(item, depth+1)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, item := range val {
			if IsSensitiveKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = String(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = walk(item, depth+1)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = String(item)
		}
		return out
	default:
		return walk(normalize(val), depth)
	}
}

// normalize turns structs and typed collections into the generic shapes
// walk understands.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return String(err.Error())
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return String(string(data))
	}
	return out
}
