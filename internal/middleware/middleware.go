// Package middleware runs the checks every tool call must pass before
// dispatch: rate limit, permission tier and consent.
package middleware

import (
	"context"
	"errors"
	"slices"

	"warden/internal/logging"
	"warden/internal/security"
)

// Request is what the checks need to know about one call.
type Request struct {
	SessionID       string
	Tool            string
	Tier            security.Tier
	RequiresConsent bool
	Granted         security.Tier
	Consented       []string
}

// CheckPermission fails unless granted covers required. An unset granted
// tier is read-only; an unset required tier is mutating.
func CheckPermission(required, granted security.Tier) error {
	if granted == security.TierUnset {
		granted = security.TierReadOnly
	}
	if required == security.TierUnset {
		required = security.TierMutating
	}
	if !granted.Allows(required) {
		return &PermissionDeniedError{Required: required, Granted: granted}
	}
	return nil
}

// CheckConsent fails when a consent-gated tool is not in consented.
func CheckConsent(tool string, tier security.Tier, requires bool, consented []string) error {
	if !requires || slices.Contains(consented, tool) {
		return nil
	}
	return &ConsentRequiredError{Tool: tool, Tier: tier}
}

// Chain bundles the three checks.
type Chain struct {
	limiter *RateLimiter
	tiers   map[string]security.Tier
	log     *logging.StructuredLogger
}

// NewChain builds a chain. tiers overrides the tier a tool declares; a nil
// limiter disables rate limiting.
func NewChain(limiter *RateLimiter, tiers map[string]security.Tier) *Chain {
	return &Chain{limiter: limiter, tiers: tiers, log: logging.NewStructuredLogger("audit")}
}

// RequiredTier resolves the effective tier for a tool.
func (c *Chain) RequiredTier(tool string, declared security.Tier) security.Tier {
	if tier, ok := c.tiers[tool]; ok && tier != security.TierUnset {
		return tier
	}
	return declared
}

// Check runs every check and returns the first failure.
func (c *Chain) Check(ctx context.Context, req Request) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	required := c.RequiredTier(req.Tool, req.Tier)

	var err error
	if c.limiter != nil {
		err = c.limiter.Allow(req.SessionID, req.Tool)
	}
	if err == nil {
		err = CheckPermission(required, req.Granted)
	}
	if err == nil {
		err = CheckConsent(req.Tool, required, req.RequiresConsent, req.Consented)
	}
	if err != nil {
		c.log.Warn("tool call blocked", map[string]interface{}{
			"tool":    req.Tool,
			"session": req.SessionID,
			"reason":  reason(err),
			"error":   err.Error(),
		})
	}
	return err
}

func reason(err error) string {
	var (
		rl *RateLimitedError
		pd *PermissionDeniedError
		cr *ConsentRequiredError
	)
	switch {
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &pd):
		return "permission_denied"
	case errors.As(err, &cr):
		return "consent_required"
	default:
		return "error"
	}
}
