package engine

import (
	"fmt"
	"sort"
)

// Views, triggers and procedures follow one pattern: a reserved system table
// as the durable store, a map warmed from it at open, and mutations that hit
// both.

// Trigger is one stored trigger definition. Actions are raw statements run
// by the executor; a failing action is logged and never fails the outer
// operation.
type Trigger struct {
	Name   string
	Table  string
	Timing string // BEFORE / AFTER
	Event  string // INSERT / UPDATE / DELETE
	Action string
}

func (db *Database) warmManagers() error {
	if err := db.loadSchemas(); err != nil {
		return err
	}
	if err := db.loadViews(); err != nil {
		return err
	}
	if err := db.loadTriggers(); err != nil {
		return err
	}
	return db.loadProcedures()
}

// ---- views ----

func (db *Database) loadViews() error {
	db.views = make(map[string]string)
	if _, ok := db.catalog[SysViews]; !ok {
		return nil
	}
	return db.ScanTable(SysViews, func(row Row, _ uint32) error {
		name, _ := row["name"].(string)
		stmt, _ := row["statement"].(string)
		if name != "" && stmt != "" {
			db.views[name] = stmt
		}
		return nil
	})
}

// CreateView stores a named SELECT statement.
func (db *Database) CreateView(name, statement string) error {
	if IsSystemName(name) {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	if _, ok := db.views[name]; ok {
		return fmt.Errorf("%w: view %q", ErrAlreadyExists, name)
	}
	if _, ok := db.catalog[name]; ok {
		return fmt.Errorf("%w: table %q", ErrAlreadyExists, name)
	}
	if _, err := db.ensureSystemTable(SysViews); err != nil {
		return err
	}
	if _, err := db.AppendRow(SysViews, Row{"name": name, "statement": statement}); err != nil {
		return err
	}
	db.views[name] = statement
	db.Audit("CREATE_VIEW", name, 0)
	return nil
}

func (db *Database) DropView(name string) error {
	if _, ok := db.views[name]; !ok {
		return fmt.Errorf("%w: view %q", ErrNotFound, name)
	}
	entry := db.catalog[SysViews]
	if _, err := db.deleteRows(entry, func(r Row) bool {
		n, _ := r["name"].(string)
		return n == name
	}); err != nil {
		return err
	}
	delete(db.views, name)
	db.Audit("DROP_VIEW", name, 0)
	return nil
}

// View returns the stored SELECT text for name.
func (db *Database) View(name string) (string, bool) {
	stmt, ok := db.views[name]
	return stmt, ok
}

// ---- triggers ----

func (db *Database) loadTriggers() error {
	db.triggers = make(map[string][]Trigger)
	if _, ok := db.catalog[SysTriggers]; !ok {
		return nil
	}
	return db.ScanTable(SysTriggers, func(row Row, _ uint32) error {
		t := Trigger{}
		t.Name, _ = row["name"].(string)
		t.Table, _ = row["table"].(string)
		t.Timing, _ = row["timing"].(string)
		t.Event, _ = row["event"].(string)
		t.Action, _ = row["action"].(string)
		if t.Name != "" && t.Table != "" {
			db.triggers[t.Table] = append(db.triggers[t.Table], t)
		}
		return nil
	})
}

func (db *Database) CreateTrigger(t Trigger) error {
	for _, existing := range db.triggers[t.Table] {
		if existing.Name == t.Name {
			return fmt.Errorf("%w: trigger %q", ErrAlreadyExists, t.Name)
		}
	}
	if _, err := db.ensureSystemTable(SysTriggers); err != nil {
		return err
	}
	row := Row{
		"name":   t.Name,
		"table":  t.Table,
		"timing": t.Timing,
		"event":  t.Event,
		"action": t.Action,
	}
	if _, err := db.AppendRow(SysTriggers, row); err != nil {
		return err
	}
	db.triggers[t.Table] = append(db.triggers[t.Table], t)
	db.Audit("CREATE_TRIGGER", t.Table, 0)
	return nil
}

func (db *Database) DropTrigger(name string) error {
	found := false
	for table, list := range db.triggers {
		for i, t := range list {
			if t.Name == name {
				db.triggers[table] = append(list[:i], list[i+1:]...)
				found = true
				break
			}
		}
		if found {
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: trigger %q", ErrNotFound, name)
	}
	entry := db.catalog[SysTriggers]
	if _, err := db.deleteRows(entry, func(r Row) bool {
		n, _ := r["name"].(string)
		return n == name
	}); err != nil {
		return err
	}
	db.Audit("DROP_TRIGGER", name, 0)
	return nil
}

// TriggersFor returns the triggers on table for one timing and event.
func (db *Database) TriggersFor(table, timing, event string) []Trigger {
	var out []Trigger
	for _, t := range db.triggers[table] {
		if t.Timing == timing && t.Event == event {
			out = append(out, t)
		}
	}
	return out
}

// ---- procedures ----

func (db *Database) loadProcedures() error {
	db.procedures = make(map[string][]string)
	if _, ok := db.catalog[SysProcedures]; !ok {
		return nil
	}
	return db.ScanTable(SysProcedures, func(row Row, _ uint32) error {
		name, _ := row["name"].(string)
		raw, _ := row["statements"].([]any)
		if name == "" {
			return nil
		}
		stmts := make([]string, 0, len(raw))
		for _, s := range raw {
			if str, ok := s.(string); ok {
				stmts = append(stmts, str)
			}
		}
		db.procedures[name] = stmts
		return nil
	})
}

func (db *Database) CreateProcedure(name string, statements []string) error {
	if _, ok := db.procedures[name]; ok {
		return fmt.Errorf("%w: procedure %q", ErrAlreadyExists, name)
	}
	if _, err := db.ensureSystemTable(SysProcedures); err != nil {
		return err
	}
	anyStmts := make([]any, len(statements))
	for i, s := range statements {
		anyStmts[i] = s
	}
	if _, err := db.AppendRow(SysProcedures, Row{"name": name, "statements": anyStmts}); err != nil {
		return err
	}
	db.procedures[name] = statements
	db.Audit("CREATE_PROCEDURE", name, 0)
	return nil
}

// Procedure returns the stored statement list for name.
func (db *Database) Procedure(name string) ([]string, bool) {
	stmts, ok := db.procedures[name]
	return stmts, ok
}

// ViewNames lists stored views sorted by name; used by SHOW TABLES output.
func (db *Database) ViewNames() []string {
	names := make([]string, 0, len(db.views))
	for name := range db.views {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
