package executor

import (
	"sort"
	"strings"

	"github.com/sawitdb/sawitdb/internal/index"
	"github.com/sawitdb/sawitdb/internal/sql/parser"
)

// accumulator folds one aggregate function over a stream of values.
type accumulator struct {
	fn    string
	count int
	sum   float64
	min   any
	max   any
}

func (a *accumulator) add(v any) {
	if v == nil && a.fn != "COUNT_STAR" {
		return // non-null semantics for COUNT(field), SUM, AVG, MIN, MAX
	}
	a.count++
	if n, ok := index.AsNumber(v); ok {
		a.sum += n
	}
	if a.fn == "MIN" || a.fn == "MAX" {
		if a.min == nil && a.max == nil && a.count == 1 {
			a.min, a.max = v, v
			return
		}
		if index.Compare(v, a.min) < 0 {
			a.min = v
		}
		if index.Compare(v, a.max) > 0 {
			a.max = v
		}
	}
}

func (a *accumulator) result() any {
	switch a.fn {
	case "COUNT", "COUNT_STAR":
		return a.count
	case "SUM":
		if a.count == 0 {
			return nil
		}
		return a.sum
	case "AVG":
		if a.count == 0 {
			return nil
		}
		return a.sum / float64(a.count)
	case "MIN":
		return a.min
	case "MAX":
		return a.max
	default:
		return nil
	}
}

func aggName(a parser.Aggregate) string {
	if a.As != "" {
		return a.As
	}
	return strings.ToLower(a.Func) + "(" + a.Field + ")"
}

func newAccumulator(a parser.Aggregate) *accumulator {
	fn := a.Func
	if fn == "COUNT" && a.Field == "*" {
		fn = "COUNT_STAR"
	}
	return &accumulator{fn: fn}
}

// execAggregate computes COUNT/SUM/AVG/MIN/MAX over the filtered rows, with
// optional GROUP BY hash accumulation and a HAVING filter over the group
// results.
func (e *Executor) execAggregate(cmd *parser.Command) (any, error) {
	sel := parser.Command{
		Kind:     parser.KindSelect,
		Table:    cmd.Table,
		Joins:    cmd.Joins,
		Criteria: cmd.Criteria,
		Limit:    -1,
		Offset:   -1,
	}
	rows, _, err := e.selectRows(&sel)
	if err != nil {
		return nil, err
	}

	if cmd.GroupBy == "" {
		accs := make([]*accumulator, len(cmd.Aggregates))
		for i, a := range cmd.Aggregates {
			accs[i] = newAccumulator(a)
		}
		for _, r := range rows {
			for i, a := range cmd.Aggregates {
				feed(accs[i], a, r)
			}
		}
		if len(cmd.Aggregates) == 1 {
			return accs[0].result(), nil
		}
		out := Row{}
		for i, a := range cmd.Aggregates {
			out[aggName(a)] = accs[i].result()
		}
		return out, nil
	}

	// GROUP BY: group key -> accumulators, insertion-ordered for stable output
	type group struct {
		key  any
		accs []*accumulator
	}
	groups := map[string]*group{}
	var order []string
	for _, r := range rows {
		kv, _ := r.value(cmd.GroupBy)
		hk := hashKey(kv)
		g, ok := groups[hk]
		if !ok {
			g = &group{key: kv, accs: make([]*accumulator, len(cmd.Aggregates))}
			for i, a := range cmd.Aggregates {
				g.accs[i] = newAccumulator(a)
			}
			groups[hk] = g
			order = append(order, hk)
		}
		for i, a := range cmd.Aggregates {
			feed(g.accs[i], a, r)
		}
	}

	out := make([]Row, 0, len(groups))
	for _, hk := range order {
		g := groups[hk]
		row := Row{cmd.GroupBy: g.key}
		for i, a := range cmd.Aggregates {
			row[aggName(a)] = g.accs[i].result()
		}
		if cmd.Having != nil && !matchCondition(cmd.Having, func(f string) (any, bool) {
			v, ok := row[f]
			return v, ok
		}) {
			continue
		}
		out = append(out, row)
	}

	// deterministic group order by key
	sort.SliceStable(out, func(i, j int) bool {
		return index.Compare(out[i][cmd.GroupBy], out[j][cmd.GroupBy]) < 0
	})
	return out, nil
}

func feed(acc *accumulator, a parser.Aggregate, r resultRow) {
	if a.Field == "*" {
		acc.add(struct{}{})
		return
	}
	v, present := r.value(a.Field)
	if !present {
		v = nil
	}
	acc.add(v)
}
