package engine

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sawitdb/sawitdb/internal/index"
)

// CreateIndex persists (table, field) in _indexes and builds the in-memory
// index by a full table scan.
func (db *Database) CreateIndex(table, field string) error {
	if _, ok := db.catalog[table]; !ok {
		return fmt.Errorf("%w: table %q", ErrNotFound, table)
	}
	if _, ok := db.indexes[table][field]; ok {
		return fmt.Errorf("%w: index on %s(%s)", ErrAlreadyExists, table, field)
	}
	if _, err := db.ensureSystemTable(SysIndexes); err != nil {
		return err
	}
	if _, err := db.AppendRow(SysIndexes, Row{"table": table, "field": field}); err != nil {
		return err
	}
	if err := db.buildIndex(table, field); err != nil {
		return err
	}
	db.Audit("CREATE_INDEX", table, 0)
	return nil
}

// buildIndex scans the table and installs the index.
func (db *Database) buildIndex(table, field string) error {
	ix := index.New(table, field)
	err := db.ScanTable(table, func(row Row, pageID uint32) error {
		if v, ok := row[field]; ok {
			ix.Insert(v, index.RowRef{Page: pageID})
		}
		return nil
	})
	if err != nil {
		return err
	}
	if db.indexes == nil {
		db.indexes = make(map[string]map[string]*index.Index)
	}
	if db.indexes[table] == nil {
		db.indexes[table] = make(map[string]*index.Index)
	}
	db.indexes[table][field] = ix
	return nil
}

// rebuildIndexes restores every index listed in _indexes at database open.
func (db *Database) rebuildIndexes() error {
	db.indexes = make(map[string]map[string]*index.Index)
	if _, ok := db.catalog[SysIndexes]; !ok {
		return nil
	}
	type pair struct{ table, field string }
	var pairs []pair
	err := db.ScanTable(SysIndexes, func(row Row, _ uint32) error {
		t, _ := row["table"].(string)
		f, _ := row["field"].(string)
		if t != "" && f != "" {
			pairs = append(pairs, pair{t, f})
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, p := range pairs {
		if _, ok := db.catalog[p.table]; !ok {
			db.log.Warn("index references missing table",
				zap.String("table", p.table), zap.String("field", p.field))
			continue
		}
		if err := db.buildIndex(p.table, p.field); err != nil {
			return err
		}
	}
	return nil
}

// LookupIndex returns the index on (table, field) when one exists.
func (db *Database) LookupIndex(table, field string) (*index.Index, bool) {
	ix, ok := db.indexes[table][field]
	return ix, ok
}

// IndexStats reports every index's shape, for SHOW INDEXES.
func (db *Database) IndexStats() []index.Stats {
	var out []index.Stats
	for _, fields := range db.indexes {
		for _, ix := range fields {
			out = append(out, ix.Stats())
		}
	}
	return out
}

func (db *Database) removeIndexRecord(table, field string) error {
	entry, ok := db.catalog[SysIndexes]
	if !ok {
		return nil
	}
	_, err := db.deleteRows(entry, func(r Row) bool {
		t, _ := r["table"].(string)
		f, _ := r["field"].(string)
		return t == table && f == field
	})
	return err
}
