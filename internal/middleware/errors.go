package middleware

import (
	"fmt"
	"time"

	"warden/internal/security"
)

// RateLimitedError is returned once a (session, tool) pair used up its window.
type RateLimitedError struct {
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: %d calls per %s, retry after %s", e.Limit, e.Window, e.RetryAfter.Round(time.Millisecond))
}

// PermissionDeniedError means the session's tier is below the tool's.
type PermissionDeniedError struct {
	Required security.Tier
	Granted  security.Tier
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: tool requires %s, session has %s", e.Required, e.Granted)
}

// ConsentRequiredError means the tool needs explicit consent first.
type ConsentRequiredError struct {
	Tool string
	Tier security.Tier
}

func (e *ConsentRequiredError) Error() string {
	return fmt.Sprintf("consent required: %s (%s) has not been approved for this session", e.Tool, e.Tier)
}
