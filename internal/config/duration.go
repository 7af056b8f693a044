package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a positive time.Duration written as a Go duration string ("10s").
type Duration struct {
	d time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) *Duration { return &Duration{d} }

// Value returns the wrapped duration.
func (d Duration) Value() time.Duration { return d.d }

func (d Duration) String() string { return d.d.String() }

// UnmarshalText is used by TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" {
		return errors.New("duration string cannot be empty")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration string %q: %w", s, err)
	}
	if parsed <= 0 {
		return fmt.Errorf("duration must be positive, got %q", s)
	}
	d.d = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.d.String()), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return d.UnmarshalText(nil)
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration should be a string, got %s", data)
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.d.String())
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration should be a string, got YAML node kind %d", value.Kind)
	}
	return d.UnmarshalText([]byte(value.Value))
}
