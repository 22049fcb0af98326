package executor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/sawitdb/sawitdb/internal/engine"
	"github.com/sawitdb/sawitdb/internal/index"
	"github.com/sawitdb/sawitdb/internal/sql/parser"
)

// resultRow is one row moving through the select pipeline: the per-table
// parts (nil part = outer-join null fill) and the base row's page hint for
// mutators.
type resultRow struct {
	order   []string
	parts   map[string]Row
	page    uint32
	hasPage bool
}

func baseRow(table string, row Row, page uint32, hasPage bool) resultRow {
	return resultRow{
		order:   []string{table},
		parts:   map[string]Row{table: row},
		page:    page,
		hasPage: hasPage,
	}
}

// value resolves a (possibly table-qualified) field reference.
func (r resultRow) value(field string) (any, bool) {
	if t, f, ok := strings.Cut(field, "."); ok {
		part := r.parts[t]
		if part == nil {
			return nil, true // null-filled side
		}
		v, present := part[f]
		return v, present
	}
	for _, t := range r.order {
		part := r.parts[t]
		if part == nil {
			continue
		}
		if v, present := part[field]; present {
			return v, present
		}
	}
	return nil, false
}

// merge flattens the parts into one output row. The base table's fields keep
// their names; a joined field that collides gets qualified as table.field.
// Null-filled sides contribute explicit nulls for every field that side
// exposes elsewhere in the result set.
func (r resultRow) merge(columns map[string][]string) Row {
	out := Row{}
	for i, t := range r.order {
		part := r.parts[t]
		if part == nil {
			for _, f := range columns[t] {
				key := f
				if _, taken := out[key]; taken || i > 0 && conflicts(columns, r.order[:i], f) {
					key = t + "." + f
				}
				if _, taken := out[key]; !taken {
					out[key] = nil
				}
			}
			continue
		}
		for f, v := range part {
			key := f
			if _, taken := out[key]; taken {
				key = t + "." + f
			}
			out[key] = v
		}
	}
	return out
}

func conflicts(columns map[string][]string, earlier []string, field string) bool {
	for _, t := range earlier {
		for _, f := range columns[t] {
			if f == field {
				return true
			}
		}
	}
	return false
}

// execSelect runs the full pipeline: view substitution, joins, filtering
// (with the index fast path), distinct, ordering, offset/limit, projection.
func (e *Executor) execSelect(cmd *parser.Command) (any, error) {
	rows, columns, err := e.selectRows(cmd)
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, project(r, cmd.Fields, columns))
	}
	return out, nil
}

// selectRows produces the filtered, deduplicated, sorted, sliced result rows
// before projection. Mutating executors reuse it to locate target rows.
func (e *Executor) selectRows(cmd *parser.Command) ([]resultRow, map[string][]string, error) {
	base, err := e.sourceRows(cmd.Table)
	if err != nil {
		return nil, nil, err
	}

	columns := map[string][]string{cmd.Table: columnsOf(base)}

	var rows []resultRow
	if len(cmd.Joins) == 0 {
		// index fast path: single equality on an indexed field, no joins
		if field, key, ok := singleEquality(cmd.Criteria); ok {
			if ix, found := e.DB.LookupIndex(cmd.Table, field); found {
				rows = e.indexLookupRows(cmd.Table, ix, key)
				rows = filterRows(rows, cmd.Criteria)
				return e.finishRows(cmd, rows, columns)
			}
		}
		for _, b := range base {
			rows = append(rows, b)
		}
	} else {
		rows = base
		for _, join := range cmd.Joins {
			joined, err := e.applyJoin(rows, join, columns)
			if err != nil {
				return nil, nil, err
			}
			rows = joined
		}
	}

	rows = filterRows(rows, cmd.Criteria)
	return e.finishRows(cmd, rows, columns)
}

func (e *Executor) finishRows(cmd *parser.Command, rows []resultRow, columns map[string][]string) ([]resultRow, map[string][]string, error) {
	if cmd.Distinct {
		rows = distinctRows(rows, cmd.Fields, columns)
	}

	if cmd.OrderBy != "" {
		desc := cmd.Desc
		field := cmd.OrderBy
		sort.SliceStable(rows, func(i, j int) bool {
			a, _ := rows[i].value(field)
			b, _ := rows[j].value(field)
			if desc {
				return index.Compare(a, b) > 0
			}
			return index.Compare(a, b) < 0
		})
	}

	// offset before limit
	if cmd.Offset > 0 {
		if cmd.Offset >= len(rows) {
			rows = nil
		} else {
			rows = rows[cmd.Offset:]
		}
	}
	if cmd.Limit >= 0 && cmd.Limit < len(rows) {
		rows = rows[:cmd.Limit]
	}
	return rows, columns, nil
}

// sourceRows yields the base rows of a table or view. Table rows carry page
// hints; view rows do not.
func (e *Executor) sourceRows(name string) ([]resultRow, error) {
	if _, isTable := e.DB.FindTableEntry(name); !isTable {
		if stmt, isView := e.DB.View(name); isView {
			sub := parser.Parse(stmt, nil)
			if sub.Kind != parser.KindSelect {
				return nil, fmt.Errorf("executor: view %q does not hold a SELECT", name)
			}
			res, err := e.execSelect(&sub)
			if err != nil {
				return nil, err
			}
			viewRows := res.([]Row)
			out := make([]resultRow, 0, len(viewRows))
			for _, row := range viewRows {
				out = append(out, baseRow(name, row, 0, false))
			}
			return out, nil
		}
		return nil, fmt.Errorf("%w: table %q", engine.ErrNotFound, name)
	}

	var out []resultRow
	err := e.DB.ScanTable(name, func(row Row, pageID uint32) error {
		out = append(out, baseRow(name, row, pageID, true))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Executor) indexLookupRows(table string, ix *index.Index, key any) []resultRow {
	refs := ix.Find(key)
	seen := make(map[uint32]bool, len(refs))
	var out []resultRow
	for _, ref := range refs {
		if seen[ref.Page] {
			continue
		}
		seen[ref.Page] = true
		// fetch the hinted page and re-check rows against the predicate
		_ = e.DB.ScanPage(table, ref.Page, func(row Row) error {
			out = append(out, baseRow(table, row, ref.Page, true))
			return nil
		})
	}
	return out
}

func filterRows(rows []resultRow, crit *parser.Condition) []resultRow {
	if crit == nil {
		return rows
	}
	out := rows[:0:0]
	for _, r := range rows {
		if matchCondition(crit, r.value) {
			out = append(out, r)
		}
	}
	return out
}

// applyJoin combines the current rows with one joined table. Equality joins
// hash the smaller side; everything else nests loops. Outer variants
// null-fill the unmatched side.
func (e *Executor) applyJoin(left []resultRow, join parser.Join, columns map[string][]string) ([]resultRow, error) {
	rightBase, err := e.sourceRows(join.Table)
	if err != nil {
		return nil, err
	}
	columns[join.Table] = columnsOf(rightBase)

	if join.Type == "CROSS" {
		var out []resultRow
		for _, l := range left {
			for _, r := range rightBase {
				out = append(out, combine(l, join.Table, r.parts[join.Table]))
			}
		}
		return out, nil
	}

	// orient the ON operands: the operand qualified with the joined table
	// evaluates against the right side, whichever way the user wrote it
	lf, rf := join.LeftField, join.RightField
	if t, _, ok := strings.Cut(lf, "."); ok && t == join.Table {
		lf, rf = rf, lf
	}
	leftVal := func(l resultRow) (any, bool) { return l.value(lf) }
	rightVal := func(r resultRow) (any, bool) { return r.value(rf) }

	matchedRight := make([]bool, len(rightBase))
	var out []resultRow

	if join.Op == parser.OpEq {
		// hash join: build over the smaller side, probe from the other;
		// null keys never match
		type bucket []int
		if len(rightBase) <= len(left) {
			table := make(map[string]bucket, len(rightBase))
			for i, r := range rightBase {
				if v, _ := rightVal(r); v != nil {
					table[hashKey(v)] = append(table[hashKey(v)], i)
				}
			}
			for _, l := range left {
				v, _ := leftVal(l)
				var hits bucket
				if v != nil {
					hits = table[hashKey(v)]
				}
				if len(hits) == 0 {
					if join.Type == "LEFT" || join.Type == "FULL" {
						out = append(out, combine(l, join.Table, nil))
					}
					continue
				}
				for _, i := range hits {
					matchedRight[i] = true
					out = append(out, combine(l, join.Table, rightBase[i].parts[join.Table]))
				}
			}
		} else {
			table := make(map[string]bucket, len(left))
			for i, l := range left {
				if v, _ := leftVal(l); v != nil {
					table[hashKey(v)] = append(table[hashKey(v)], i)
				}
			}
			matchedLeft := make([]bool, len(left))
			for ri, r := range rightBase {
				v, _ := rightVal(r)
				var hits bucket
				if v != nil {
					hits = table[hashKey(v)]
				}
				for _, li := range hits {
					matchedLeft[li] = true
					matchedRight[ri] = true
					out = append(out, combine(left[li], join.Table, r.parts[join.Table]))
				}
			}
			if join.Type == "LEFT" || join.Type == "FULL" {
				for li, l := range left {
					if !matchedLeft[li] {
						out = append(out, combine(l, join.Table, nil))
					}
				}
			}
		}
	} else {
		for _, l := range left {
			lv, _ := leftVal(l)
			matched := false
			for i, r := range rightBase {
				rv, _ := rightVal(r)
				if !compareJoin(lv, rv, join.Op) {
					continue
				}
				matched = true
				matchedRight[i] = true
				out = append(out, combine(l, join.Table, rightBase[i].parts[join.Table]))
			}
			if !matched && (join.Type == "LEFT" || join.Type == "FULL") {
				out = append(out, combine(l, join.Table, nil))
			}
		}
	}

	if join.Type == "RIGHT" || join.Type == "FULL" {
		for i, r := range rightBase {
			if matchedRight[i] {
				continue
			}
			nullLeft := resultRow{order: nil, parts: map[string]Row{}}
			if len(left) > 0 {
				nullLeft.order = append([]string(nil), left[0].order...)
				for _, t := range nullLeft.order {
					nullLeft.parts[t] = nil
				}
			}
			out = append(out, combine(nullLeft, join.Table, r.parts[join.Table]))
		}
	}
	return out, nil
}

func compareJoin(a, b any, op string) bool {
	if a == nil || b == nil {
		return false
	}
	cmp := index.Compare(a, b)
	switch op {
	case parser.OpEq:
		return cmp == 0
	case parser.OpNe:
		return cmp != 0
	case parser.OpLt:
		return cmp < 0
	case parser.OpGt:
		return cmp > 0
	case parser.OpLe:
		return cmp <= 0
	case parser.OpGe:
		return cmp >= 0
	default:
		return false
	}
}

func combine(l resultRow, table string, right Row) resultRow {
	order := append(append([]string(nil), l.order...), table)
	parts := make(map[string]Row, len(l.parts)+1)
	for k, v := range l.parts {
		parts[k] = v
	}
	parts[table] = right
	return resultRow{order: order, parts: parts, page: l.page, hasPage: l.hasPage}
}

// hashKey canonicalizes a join key for map lookup; numbers normalize so
// 1 and 1.0 land in the same bucket.
func hashKey(v any) string {
	if n, ok := index.AsNumber(v); ok {
		return fmt.Sprintf("n:%v", n)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("x:%v", v)
	}
	return "j:" + string(b)
}

// distinctRows deduplicates by deep equality of the projected tuple.
func distinctRows(rows []resultRow, fields []string, columns map[string][]string) []resultRow {
	seen := make(map[string]bool, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		proj := project(r, fields, columns)
		key, err := json.Marshal(sortedPairs(proj))
		if err != nil {
			out = append(out, r)
			continue
		}
		if seen[string(key)] {
			continue
		}
		seen[string(key)] = true
		out = append(out, r)
	}
	return out
}

func sortedPairs(row Row) [][2]any {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([][2]any, len(keys))
	for i, k := range keys {
		pairs[i] = [2]any{k, row[k]}
	}
	return pairs
}

// project applies the select list. "*" expands to every field present in
// the row; the model is schema-less.
func project(r resultRow, fields []string, columns map[string][]string) Row {
	if len(fields) == 0 || (len(fields) == 1 && fields[0] == "*") {
		return r.merge(columns)
	}
	out := Row{}
	for _, f := range fields {
		v, _ := r.value(f)
		name := f
		if _, after, ok := strings.Cut(f, "."); ok {
			if _, taken := out[after]; !taken {
				name = after
			}
		}
		out[name] = v
	}
	return out
}

// columnsOf collects the union of field names per table part, used to
// null-fill outer join results.
func columnsOf(rows []resultRow) []string {
	set := map[string]bool{}
	var out []string
	for _, r := range rows {
		for _, part := range r.parts {
			for f := range part {
				if !set[f] {
					set[f] = true
					out = append(out, f)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}
