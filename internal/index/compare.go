package index

import (
	"fmt"
	"strings"
)

// Type rank for cross-type ordering: null < bool < number < string.
// Everything else (arrays, objects) sorts last by its JSON text.
func rank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64, int, int64, int32, uint32, uint64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// AsNumber normalizes any numeric value to float64. JSON decoding yields
// float64 already; integer literals from the parser arrive as int64.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Compare orders two JSON-comparable values. Returns -1, 0 or 1.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		return 0
	case 1:
		av, bv := a.(bool), b.(bool)
		if av == bv {
			return 0
		}
		if !av {
			return -1
		}
		return 1
	case 2:
		av, _ := AsNumber(a)
		bv, _ := AsNumber(b)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case 3:
		return strings.Compare(a.(string), b.(string))
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}

// Equal reports deep value equality under the same normalization Compare
// uses (1 == 1.0, but "1" != 1).
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}
