package criteria

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Compare orders two property values. nil sorts before every non-nil value.
// Numbers compare numerically whatever their Go type; values of unrelated
// types compare by kind, then by their printed form.
func Compare(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	a, b = Normalize(a), Normalize(b)
	ka, kb := kindOf(a), kindOf(b)

	if ka == kindInt && kb == kindInt {
		return compareInt64(cast.ToInt64(a), cast.ToInt64(b))
	}
	if IsNumeric(a) && IsNumeric(b) {
		return compareFloat64(cast.ToFloat64(a), cast.ToFloat64(b))
	}

	if ka != kb {
		if ka < kb {
			return -1
		}
		return 1
	}

	switch ka {
	case kindBool:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case kindTime:
		x, y := a.(time.Time), b.(time.Time)
		switch {
		case x.Before(y):
			return -1
		case x.After(y):
			return 1
		}
		return 0
	case kindString:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// Equal reports whether two non-nil values compare equal.
func Equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return false
	}
	return Compare(a, b) == 0
}

func compareInt64(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func compareFloat64(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

type kind int

const (
	kindBool kind = iota
	kindInt
	kindFloat
	kindString
	kindTime
	kindOther
)

func kindOf(v interface{}) kind {
	switch v.(type) {
	case bool:
		return kindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return kindInt
	case float32, float64:
		return kindFloat
	case string:
		return kindString
	case time.Time:
		return kindTime
	default:
		return kindOther
	}
}

// Normalize turns decoder specific number representations into int64 or
// float64. Other values are returned unchanged.
func Normalize(v interface{}) interface{} {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case []byte:
		return string(v)
	default:
		return v
	}
}

// IsNumeric reports whether v is a Go number.
func IsNumeric(v interface{}) bool {
	k := kindOf(Normalize(v))
	return k == kindInt || k == kindFloat
}

// IsInteger reports whether v is a Go integer.
func IsInteger(v interface{}) bool {
	return kindOf(Normalize(v)) == kindInt
}
