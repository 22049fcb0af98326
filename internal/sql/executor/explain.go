package executor

import (
	"fmt"

	"github.com/sawitdb/sawitdb/internal/sql/parser"
)

// execExplain describes the plan the wrapped SELECT would run. Only catalog
// lookups happen; no data pages are read.
func (e *Executor) execExplain(cmd *parser.Command) (any, error) {
	sel := cmd.Select
	if sel == nil {
		return nil, fmt.Errorf("executor: EXPLAIN has no statement")
	}

	var steps []Row

	table := sel.Table
	if _, isTable := e.DB.FindTableEntry(table); !isTable {
		if _, isView := e.DB.View(table); isView {
			steps = append(steps, Row{"step": "VIEW", "view": table})
		}
	}

	scanned := false
	if len(sel.Joins) == 0 {
		if field, key, ok := singleEquality(sel.Criteria); ok {
			if _, found := e.DB.LookupIndex(table, field); found {
				steps = append(steps, Row{
					"step":  "INDEX_SCAN",
					"table": table,
					"index": table + "." + field,
					"key":   key,
				})
				scanned = true
			}
		}
	}
	if !scanned {
		steps = append(steps, Row{"step": "SCAN", "table": table})
	}

	for _, join := range sel.Joins {
		method := "NESTED_LOOP"
		if join.Op == parser.OpEq {
			method = "HASH"
		}
		if join.Type == "CROSS" {
			method = "NESTED_LOOP"
		}
		steps = append(steps, Row{
			"step":   "JOIN",
			"type":   join.Type,
			"table":  join.Table,
			"method": method,
		})
	}

	if sel.Criteria != nil && !scanned {
		steps = append(steps, Row{"step": "FILTER"})
	}
	if sel.Kind == parser.KindAggregate {
		fns := make([]string, len(sel.Aggregates))
		for i, a := range sel.Aggregates {
			fns[i] = aggName(a)
		}
		agg := Row{"step": "AGGREGATE", "functions": fns}
		if sel.GroupBy != "" {
			agg["groupBy"] = sel.GroupBy
		}
		steps = append(steps, agg)
		if sel.Having != nil {
			steps = append(steps, Row{"step": "HAVING"})
		}
	}
	if sel.Distinct {
		steps = append(steps, Row{"step": "DISTINCT"})
	}
	if sel.OrderBy != "" {
		steps = append(steps, Row{"step": "SORT", "field": sel.OrderBy, "desc": sel.Desc})
	}
	if sel.Offset > 0 {
		steps = append(steps, Row{"step": "OFFSET", "n": sel.Offset})
	}
	if sel.Limit >= 0 {
		steps = append(steps, Row{"step": "LIMIT", "n": sel.Limit})
	}
	fields := sel.Fields
	if len(fields) == 0 {
		fields = []string{"*"}
	}
	steps = append(steps, Row{"step": "PROJECT", "fields": fields})

	return Row{
		"statement": string(sel.Kind),
		"table":     table,
		"steps":     steps,
	}, nil
}
