// Package toml adds support to marshal and unmarshal types not in the official TOML spec.
package toml

import (
	"fmt"
	"strconv"
	"time"
)

// Duration is a TOML wrapper type for time.Duration.
type Duration time.Duration

// String returns the string representation of the duration.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a TOML value into a duration value.
func (d *Duration) UnmarshalText(text []byte) error {
	// Ignore if there is no value set.
	if len(text) == 0 {
		return nil
	}

	// Otherwise parse as a duration formatted string.
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}

	// Set duration and return.
	*d = Duration(duration)
	return nil
}

// MarshalText converts a duration to a string for decoding toml
func (d Duration) MarshalText() (text []byte, err error) {
	return []byte(d.String()), nil
}

// Group is a list of integers that may also be written as an inclusive
// range string such as "0-15".
type Group []int

// UnmarshalTOML accepts either an array of integers or a "lo-hi" range.
func (g *Group) UnmarshalTOML(v interface{}) error {
	switch v := v.(type) {
	case []interface{}:
		out := make(Group, 0, len(v))
		for _, item := range v {
			n, ok := item.(int64)
			if !ok {
				return fmt.Errorf("group member %v is not an integer", item)
			}
			out = append(out, int(n))
		}
		*g = out
		return nil
	case string:
		return g.parseRange(v)
	case int64:
		*g = Group{int(v)}
		return nil
	default:
		return fmt.Errorf("unsupported group value %v", v)
	}
}

func (g *Group) parseRange(s string) error {
	for i := 1; i < len(s); i++ {
		if s[i] != '-' {
			continue
		}
		lo, err := strconv.Atoi(s[:i])
		if err != nil {
			return fmt.Errorf("invalid group range %q: %w", s, err)
		}
		hi, err := strconv.Atoi(s[i+1:])
		if err != nil {
			return fmt.Errorf("invalid group range %q: %w", s, err)
		}
		if hi < lo {
			return fmt.Errorf("invalid group range %q: upper bound below lower bound", s)
		}
		out := make(Group, 0, hi-lo+1)
		for n := lo; n <= hi; n++ {
			out = append(out, n)
		}
		*g = out
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid group %q: %w", s, err)
	}
	*g = Group{n}
	return nil
}
