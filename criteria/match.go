package criteria

// Match reports whether v satisfies every restriction.
func Match(v Valuer, restrictions []Restriction) bool {
	for _, r := range restrictions {
		if !matchOne(v, r) {
			return false
		}
	}
	return true
}

// Valuer mirrors shardkit.Valuer so the package stays free of the root
// package.
type Valuer interface {
	Value(path string) (interface{}, bool)
}

func matchOne(v Valuer, r Restriction) bool {
	val, ok := v.Value(r.Property)
	if !ok {
		val = nil
	}

	switch r.Op {
	case IsNull:
		return val == nil
	case NotNull:
		return val != nil
	case In:
		list, _ := r.Value.([]interface{})
		for _, item := range list {
			if Equal(val, item) {
				return true
			}
		}
		return false
	}

	// Comparisons against a missing value never match, as in SQL.
	if val == nil || r.Value == nil {
		return false
	}
	c := Compare(val, r.Value)
	switch r.Op {
	case Eq:
		return c == 0
	case Ne:
		return c != 0
	case Lt:
		return c < 0
	case Le:
		return c <= 0
	case Gt:
		return c > 0
	case Ge:
		return c >= 0
	}
	return false
}
