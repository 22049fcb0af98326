package engine

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sawitdb/sawitdb/internal/storage"
)

// TableEntry is one catalog record: the head and tail of a table's page
// chain. The catalog table hosts its own entry on page 0.
type TableEntry struct {
	Name   string
	Start  uint32
	Last   uint32
	System bool
}

func (e *TableEntry) row() Row {
	r := Row{
		"name":  e.Name,
		"start": float64(e.Start),
		"last":  float64(e.Last),
	}
	if e.System {
		r["system"] = true
	}
	return r
}

func entryFromRow(r Row) (*TableEntry, error) {
	name, _ := r["name"].(string)
	start, okS := r["start"].(float64)
	last, okL := r["last"].(float64)
	if name == "" || !okS || !okL {
		return nil, fmt.Errorf("%w: malformed catalog record", storage.ErrStorageFault)
	}
	system, _ := r["system"].(bool)
	return &TableEntry{Name: name, Start: uint32(start), Last: uint32(last), System: system}, nil
}

// catalogEntry is the hard-coded bootstrap: _tables starts on page 0.
func catalogEntry(db *Database) *TableEntry {
	if e, ok := db.catalog[CatalogTable]; ok {
		return e
	}
	return &TableEntry{Name: CatalogTable, Start: 0, Last: 0, System: true}
}

// loadCatalog walks the _tables chain from page 0 and caches every entry.
// A fresh file gets the catalog's own record seeded first.
func (db *Database) loadCatalog() error {
	db.catalog = make(map[string]*TableEntry)

	boot := &TableEntry{Name: CatalogTable, Start: 0, Last: 0, System: true}
	db.catalog[CatalogTable] = boot

	empty := true
	err := db.scanEntry(boot, func(row Row, pageID uint32) error {
		empty = false
		e, err := entryFromRow(row)
		if err != nil {
			return err
		}
		db.catalog[e.Name] = e
		return nil
	})
	if err != nil {
		return err
	}

	if empty {
		// first open: self-host the catalog's entry as page 0's first record
		if _, err := db.appendRow(boot, boot.row()); err != nil {
			return err
		}
		if err := db.CommitStatement(); err != nil {
			return err
		}
	}
	return nil
}

// FindTableEntry looks a table up in the catalog cache.
func (db *Database) FindTableEntry(name string) (*TableEntry, bool) {
	e, ok := db.catalog[name]
	return e, ok
}

// TableNames lists the catalog sorted by name; system tables only when includeSystem is set.
func (db *Database) TableNames(includeSystem bool) []string {
	names := make([]string, 0, len(db.catalog))
	for name, e := range db.catalog {
		if e.System && !includeSystem {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSystemName reports whether name is reserved for system tables.
func IsSystemName(name string) bool {
	return strings.HasPrefix(name, "_")
}

// CreateTable allocates a fresh page chain and records it in the catalog.
// User DDL cannot target reserved names.
func (db *Database) CreateTable(name string, system bool) (*TableEntry, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty table name", ErrConstraintViolation)
	}
	if !system && IsSystemName(name) {
		return nil, fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	if _, ok := db.catalog[name]; ok {
		return nil, fmt.Errorf("%w: table %q", ErrAlreadyExists, name)
	}
	start, err := db.pager.AllocPage()
	if err != nil {
		return nil, err
	}
	entry := &TableEntry{Name: name, Start: start, Last: start, System: system}
	if _, err := db.appendRow(catalogEntry(db), entry.row()); err != nil {
		return nil, err
	}
	db.catalog[name] = entry
	db.Audit("CREATE_TABLE", name, 0)
	return entry, nil
}

// ensureSystemTable creates a reserved table on first use.
func (db *Database) ensureSystemTable(name string) (*TableEntry, error) {
	if e, ok := db.catalog[name]; ok {
		return e, nil
	}
	return db.CreateTable(name, true)
}

// DropTable removes the table's catalog record and its index metadata. The
// page chain is left behind; space reclamation is out of scope.
func (db *Database) DropTable(name string) error {
	if IsSystemName(name) {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	if _, ok := db.catalog[name]; !ok {
		return fmt.Errorf("%w: table %q", ErrNotFound, name)
	}
	cat := catalogEntry(db)
	if _, err := db.deleteRows(cat, func(r Row) bool {
		n, _ := r["name"].(string)
		return n == name
	}); err != nil {
		return err
	}
	delete(db.catalog, name)

	// indexes on a dropped table go with it
	if fields, ok := db.indexes[name]; ok {
		for field := range fields {
			if err := db.removeIndexRecord(name, field); err != nil {
				db.log.Warn("drop table: removing index record failed",
					zap.String("table", name), zap.String("field", field), zap.Error(err))
			}
		}
		delete(db.indexes, name)
	}
	db.Audit("DROP_TABLE", name, 0)
	return nil
}

// persistEntry rewrites a table's catalog record after its chain tail moved.
func (db *Database) persistEntry(entry *TableEntry) error {
	// the catalog's own record lives in the chain it describes and is
	// rewritten like any other
	cat := catalogEntry(db)
	updated, err := db.updateRows(cat, func(r Row) bool {
		n, _ := r["name"].(string)
		return n == entry.Name
	}, func(Row) Row { return entry.row() })
	if err != nil {
		return err
	}
	if updated == 0 {
		return fmt.Errorf("%w: catalog record for %q", ErrNotFound, entry.Name)
	}
	return nil
}
