package executor

import (
	"fmt"

	"github.com/sawitdb/sawitdb/internal/engine"
	"github.com/sawitdb/sawitdb/internal/sql/parser"
)

func (e *Executor) guardUserTable(name string) error {
	if engine.IsSystemName(name) {
		return fmt.Errorf("%w: %q", engine.ErrReservedName, name)
	}
	if _, ok := e.DB.FindTableEntry(name); !ok {
		return fmt.Errorf("%w: table %q", engine.ErrNotFound, name)
	}
	return nil
}

func (e *Executor) execInsert(cmd *parser.Command) (any, error) {
	if err := e.guardUserTable(cmd.Table); err != nil {
		return nil, err
	}

	inserted := 0
	for _, raw := range cmd.Rows {
		row, err := e.DB.CoerceRow(cmd.Table, Row(raw))
		if err != nil {
			return nil, err
		}
		e.runTriggers(cmd.Table, "BEFORE", "INSERT")
		if _, err := e.DB.AppendRow(cmd.Table, row); err != nil {
			return nil, err
		}
		inserted++
		e.runTriggers(cmd.Table, "AFTER", "INSERT")
		e.DB.Observer().OnTableInserted(cmd.Table, row)
	}
	if err := e.DB.CommitStatement(); err != nil {
		return nil, err
	}
	e.DB.Audit("INSERT", cmd.Table, inserted)
	return fmt.Sprintf("Inserted %d row(s)", inserted), nil
}

// matchTargets locates the rows a mutation applies to, reusing the select
// pipeline (index fast path included) with no slicing.
func (e *Executor) matchTargets(cmd *parser.Command) ([]resultRow, error) {
	sel := parser.Command{
		Kind:     parser.KindSelect,
		Table:    cmd.Table,
		Criteria: cmd.Criteria,
		Limit:    -1,
		Offset:   -1,
	}
	rows, _, err := e.selectRows(&sel)
	return rows, err
}

func (e *Executor) execUpdate(cmd *parser.Command) (any, error) {
	if err := e.guardUserTable(cmd.Table); err != nil {
		return nil, err
	}
	targets, err := e.matchTargets(cmd)
	if err != nil {
		return nil, err
	}

	updated := 0
	for _, t := range targets {
		old := t.parts[cmd.Table]
		if !t.hasPage {
			return nil, fmt.Errorf("executor: row has no storage location")
		}

		newRow := make(Row, len(old)+len(cmd.Assignments))
		for k, v := range old {
			newRow[k] = v
		}
		for k, v := range cmd.Assignments {
			newRow[k] = v
		}
		coerced, err := e.DB.CoerceRow(cmd.Table, newRow)
		if err != nil {
			return nil, err
		}

		e.runTriggers(cmd.Table, "BEFORE", "UPDATE")
		if err := e.DB.RewriteRow(cmd.Table, t.page, old, coerced); err != nil {
			return nil, err
		}
		updated++
		e.runTriggers(cmd.Table, "AFTER", "UPDATE")
		e.DB.Observer().OnTableUpdated(cmd.Table, old, coerced)
	}
	if err := e.DB.CommitStatement(); err != nil {
		return nil, err
	}
	e.DB.Audit("UPDATE", cmd.Table, updated)
	return fmt.Sprintf("Updated %d row(s)", updated), nil
}

func (e *Executor) execDelete(cmd *parser.Command) (any, error) {
	if err := e.guardUserTable(cmd.Table); err != nil {
		return nil, err
	}
	targets, err := e.matchTargets(cmd)
	if err != nil {
		return nil, err
	}

	deleted := 0
	for _, t := range targets {
		row := t.parts[cmd.Table]
		if !t.hasPage {
			return nil, fmt.Errorf("executor: row has no storage location")
		}
		e.runTriggers(cmd.Table, "BEFORE", "DELETE")
		n, err := e.DB.DeleteRow(cmd.Table, t.page, row)
		if err != nil {
			return nil, err
		}
		deleted += n
		if n > 0 {
			e.runTriggers(cmd.Table, "AFTER", "DELETE")
			e.DB.Observer().OnTableDeleted(cmd.Table, row)
		}
	}
	if err := e.DB.CommitStatement(); err != nil {
		return nil, err
	}
	e.DB.Audit("DELETE", cmd.Table, deleted)
	return fmt.Sprintf("Deleted %d row(s)", deleted), nil
}
