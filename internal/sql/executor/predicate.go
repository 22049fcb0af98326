package executor

import (
	"regexp"
	"strings"
	"sync"

	"github.com/sawitdb/sawitdb/internal/index"
	"github.com/sawitdb/sawitdb/internal/sql/parser"
)

// matchCondition evaluates a criteria tree against a value source. Compound
// nodes short-circuit; comparison leaves inline the operator.
func matchCondition(c *parser.Condition, value func(field string) (any, bool)) bool {
	if c == nil {
		return true
	}
	if c.IsCompound() {
		switch c.Logic {
		case parser.LogicAnd:
			for _, kid := range c.Kids {
				if !matchCondition(kid, value) {
					return false
				}
			}
			return true
		default: // OR
			for _, kid := range c.Kids {
				if matchCondition(kid, value) {
					return true
				}
			}
			return false
		}
	}
	return matchLeaf(c, value)
}

func matchLeaf(c *parser.Condition, value func(string) (any, bool)) bool {
	v, present := value(c.Field)
	if !present {
		v = nil
	}

	switch c.Op {
	case parser.OpIsNull:
		return v == nil
	case parser.OpIsNotNull:
		return v != nil
	case parser.OpEq:
		return index.Equal(v, c.Value)
	case parser.OpNe:
		return !index.Equal(v, c.Value)
	case parser.OpLt, parser.OpGt, parser.OpLe, parser.OpGe:
		// ordered comparison against null is unknown, hence false
		if v == nil || c.Value == nil {
			return false
		}
		cmp := index.Compare(v, c.Value)
		switch c.Op {
		case parser.OpLt:
			return cmp < 0
		case parser.OpGt:
			return cmp > 0
		case parser.OpLe:
			return cmp <= 0
		default:
			return cmp >= 0
		}
	case parser.OpBetween:
		if v == nil {
			return false
		}
		return index.Compare(c.Low, v) <= 0 && index.Compare(v, c.High) <= 0
	case parser.OpIn:
		for _, want := range c.Values {
			if index.Equal(v, want) {
				return true
			}
		}
		return false
	case parser.OpNotIn:
		for _, want := range c.Values {
			if index.Equal(v, want) {
				return false
			}
		}
		return true
	case parser.OpLike:
		pat, ok := c.Value.(string)
		if !ok {
			return false
		}
		s, ok := v.(string)
		if !ok {
			return false
		}
		return likeMatch(pat, s)
	default:
		return false
	}
}

var likeCache sync.Map // pattern -> *regexp.Regexp

// likeMatch implements LIKE: % matches any sequence, _ any single rune,
// case-insensitive. Regex metacharacters in the pattern are escaped before
// translation.
func likeMatch(pattern, s string) bool {
	if cached, ok := likeCache.Load(pattern); ok {
		return cached.(*regexp.Regexp).MatchString(s)
	}
	var sb strings.Builder
	sb.WriteString("(?is)^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	likeCache.Store(pattern, re)
	return re.MatchString(s)
}

// singleEquality reports whether the criteria tree is exactly one equality
// leaf, the shape the index fast path accepts.
func singleEquality(c *parser.Condition) (field string, key any, ok bool) {
	if c == nil || c.IsCompound() || c.Op != parser.OpEq {
		return "", nil, false
	}
	return c.Field, c.Value, true
}
