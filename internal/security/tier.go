package security

import (
	"fmt"
	"strings"
)

// Tier is a permission level. Tiers are totally ordered:
// ReadOnly < Mutating < Destructive.
type Tier int

const (
	// TierUnset means "use the configured default".
	TierUnset Tier = iota
	TierReadOnly
	TierMutating
	TierDestructive
)

func (t Tier) String() string {
	switch t {
	case TierReadOnly:
		return "read_only"
	case TierMutating:
		return "mutating"
	case TierDestructive:
		return "destructive"
	default:
		return "unset"
	}
}

// Allows reports whether a session granted t may run a tool requiring required.
func (t Tier) Allows(required Tier) bool {
	return t >= required
}

// ParseTier accepts the String() form plus a few aliases.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unset":
		return TierUnset, nil
	case "read_only", "readonly", "read":
		return TierReadOnly, nil
	case "mutating", "write":
		return TierMutating, nil
	case "destructive":
		return TierDestructive, nil
	default:
		return TierUnset, fmt.Errorf("unknown tier %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
