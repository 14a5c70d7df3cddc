package config

import (
	"fmt"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Size is a byte count written in YAML as "1MiB", "512k" or a plain integer.
type Size int64

func (s Size) Int() int { return int(s) }

func (s Size) String() string {
	return units.BytesSize(float64(s))
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	n, err := units.RAMInBytes(raw)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", raw, err)
	}
	*s = Size(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s Size) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}
