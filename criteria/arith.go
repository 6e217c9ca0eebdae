package criteria

import "github.com/spf13/cast"

// AddValues sums two partial values. nil acts as the identity. The sum stays
// an int64 while both operands are integers.
func AddValues(a, b interface{}) interface{} {
	switch {
	case a == nil:
		return Normalize(b)
	case b == nil:
		return Normalize(a)
	}
	if IsInteger(a) && IsInteger(b) {
		return cast.ToInt64(Normalize(a)) + cast.ToInt64(Normalize(b))
	}
	return cast.ToFloat64(Normalize(a)) + cast.ToFloat64(Normalize(b))
}

// ToFloat64 converts a numeric value. ok is false for nil or non-numbers.
func ToFloat64(v interface{}) (f float64, ok bool) {
	if v == nil || !IsNumeric(v) {
		return 0, false
	}
	f, err := cast.ToFloat64E(Normalize(v))
	return f, err == nil
}

// ToInt64 converts a numeric value, truncating floats.
func ToInt64(v interface{}) int64 {
	return cast.ToInt64(Normalize(v))
}
