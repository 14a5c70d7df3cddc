package logging

import (
	"sort"

	"go.uber.org/zap"
)

// StructuredLogger attaches component and workspace context to the shared
// zap logger.
type StructuredLogger struct {
	base      *zap.Logger
	component string
	workspace string
}

// NewStructuredLogger creates a logger tagged with component. It follows
// later Init calls unless bound to an explicit logger with WithLogger.
func NewStructuredLogger(component string) *StructuredLogger {
	return &StructuredLogger{component: component}
}

// WithLogger pins the logger to z instead of the shared one.
func (s *StructuredLogger) WithLogger(z *zap.Logger) *StructuredLogger {
	return &StructuredLogger{base: z, component: s.component, workspace: s.workspace}
}

// WithWorkspace returns a logger with workspace context
func (s *StructuredLogger) WithWorkspace(workspace string) *StructuredLogger {
	return &StructuredLogger{base: s.base, component: s.component, workspace: workspace}
}

// WithComponent returns a logger with component context
func (s *StructuredLogger) WithComponent(component string) *StructuredLogger {
	return &StructuredLogger{base: s.base, component: component, workspace: s.workspace}
}

func (s *StructuredLogger) zap(fields map[string]interface{}) (*zap.Logger, []zap.Field) {
	z := s.base
	if z == nil {
		z = L()
	}
	out := make([]zap.Field, 0, len(fields)+2)
	if s.component != "" {
		out = append(out, zap.String("component", s.component))
	}
	if s.workspace != "" {
		out = append(out, zap.String("workspace", s.workspace))
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return z, out
}

// Info logs an info message
func (s *StructuredLogger) Info(msg string, fields ...map[string]interface{}) {
	z, f := s.zap(mergeFields(fields...))
	z.Info(msg, f...)
}

// Error logs an error message
func (s *StructuredLogger) Error(msg string, fields ...map[string]interface{}) {
	z, f := s.zap(mergeFields(fields...))
	z.Error(msg, f...)
}

// Debug logs a debug message
func (s *StructuredLogger) Debug(msg string, fields ...map[string]interface{}) {
	z, f := s.zap(mergeFields(fields...))
	z.Debug(msg, f...)
}

// Warn logs a warning message
func (s *StructuredLogger) Warn(msg string, fields ...map[string]interface{}) {
	z, f := s.zap(mergeFields(fields...))
	z.Warn(msg, f...)
}

// mergeFields combines multiple field maps
func mergeFields(fields ...map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})
	for _, m := range fields {
		for k, v := range m {
			result[k] = v
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
