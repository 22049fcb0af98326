package engine

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/sawitdb/sawitdb/internal/index"
	"github.com/sawitdb/sawitdb/internal/storage"
)

// scanEntry walks a table's page chain, yielding each row with the id of the
// page it lives on. Rows come from the pager's object cache and must not be
// mutated by callers.
func (db *Database) scanEntry(entry *TableEntry, fn func(row Row, pageID uint32) error) error {
	pageID := entry.Start
	for {
		next, rows, err := db.pager.ReadPageObjects(pageID)
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := fn(row, pageID); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		pageID = next
	}
}

// ScanTable walks a user or system table by name.
func (db *Database) ScanTable(name string, fn func(row Row, pageID uint32) error) error {
	entry, ok := db.catalog[name]
	if !ok {
		return fmt.Errorf("%w: table %q", ErrNotFound, name)
	}
	return db.scanEntry(entry, fn)
}

// pageFor returns a private copy of the page, ready to mutate and write
// back.
func (db *Database) pageFor(pageID uint32) (*storage.Page, error) {
	buf, err := db.pager.ReadPage(pageID)
	if err != nil {
		return nil, err
	}
	cp := make([]byte, storage.PageSize)
	copy(cp, buf)
	return storage.NewPage(cp, pageID)
}

// appendRow writes row at the tail of the chain, allocating and linking a
// new page when the tail is full. Returns the page the record landed on.
func (db *Database) appendRow(entry *TableEntry, row Row) (uint32, error) {
	payload, err := storage.EncodeRow(row)
	if err != nil {
		return 0, err
	}

	page, err := db.pageFor(entry.Last)
	if err != nil {
		return 0, err
	}
	if len(payload) > page.MaxRecordSize() {
		return 0, fmt.Errorf("%w: %d bytes", ErrRowTooLarge, len(payload))
	}

	if err := page.AppendRecord(payload); err == nil {
		if werr := db.pager.WritePage(entry.Last, page.Buf); werr != nil {
			return 0, werr
		}
		db.indexRowAdded(entry.Name, row, entry.Last)
		return entry.Last, nil
	} else if !isPageFull(err) {
		return 0, err
	}

	// tail is full: extend the chain
	newID, err := db.pager.AllocPage()
	if err != nil {
		return 0, err
	}
	page.SetNext(newID)
	if err := db.pager.WritePage(entry.Last, page.Buf); err != nil {
		return 0, err
	}

	fresh, err := db.pageFor(newID)
	if err != nil {
		return 0, err
	}
	if len(payload) > fresh.MaxRecordSize() {
		return 0, fmt.Errorf("%w: %d bytes", ErrRowTooLarge, len(payload))
	}
	if err := fresh.AppendRecord(payload); err != nil {
		return 0, err
	}
	if err := db.pager.WritePage(newID, fresh.Buf); err != nil {
		return 0, err
	}

	prevLast := entry.Last
	entry.Last = newID
	if err := db.persistEntry(entry); err != nil {
		entry.Last = prevLast
		return 0, err
	}
	db.indexRowAdded(entry.Name, row, newID)
	return newID, nil
}

// AppendRow inserts into a table by name, growing the chain as needed.
func (db *Database) AppendRow(name string, row Row) (uint32, error) {
	entry, ok := db.catalog[name]
	if !ok {
		return 0, fmt.Errorf("%w: table %q", ErrNotFound, name)
	}
	return db.appendRow(entry, row)
}

// sameRow matches a stored row against one previously yielded by a scan.
// Both sides decoded from the same JSON bytes, so deep equality is exact.
func sameRow(a, b Row) bool {
	return reflect.DeepEqual(a, b)
}

// deleteRows removes every matching record from the chain, compacting each
// touched page. Returns the number removed.
func (db *Database) deleteRows(entry *TableEntry, match func(Row) bool) (int, error) {
	type target struct {
		pageID uint32
		rows   []Row
	}
	var targets []target
	pageID := entry.Start
	for {
		next, rows, err := db.pager.ReadPageObjects(pageID)
		if err != nil {
			return 0, err
		}
		var hits []Row
		for _, row := range rows {
			if match(row) {
				hits = append(hits, row)
			}
		}
		if len(hits) > 0 {
			targets = append(targets, target{pageID: pageID, rows: hits})
		}
		if next == 0 {
			break
		}
		pageID = next
	}

	deleted := 0
	for _, t := range targets {
		n, err := db.deleteRowsOnPage(entry, t.pageID, t.rows)
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

// deleteRowsOnPage removes the given rows from one page in a single
// read-modify-write.
func (db *Database) deleteRowsOnPage(entry *TableEntry, pageID uint32, victims []Row) (int, error) {
	page, err := db.pageFor(pageID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	remaining := append([]Row(nil), victims...)
	for len(remaining) > 0 {
		rows, err := page.Records()
		if err != nil {
			return deleted, err
		}
		found := -1
		for i, row := range rows {
			if sameRow(row, remaining[0]) {
				found = i
				break
			}
		}
		if found < 0 {
			// the row vanished between scan and write; not fatal
			remaining = remaining[1:]
			continue
		}
		if err := page.DeleteRecordAt(found); err != nil {
			return deleted, err
		}
		db.indexRowRemoved(entry.Name, remaining[0], pageID)
		remaining = remaining[1:]
		deleted++
	}
	if deleted > 0 {
		if err := db.pager.WritePage(pageID, page.Buf); err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// updateRows rewrites matching rows in place when the new payload fits,
// relocating to the chain tail otherwise. Returns the number updated.
func (db *Database) updateRows(entry *TableEntry, match func(Row) bool, transform func(Row) Row) (int, error) {
	type hit struct {
		pageID uint32
		old    Row
	}
	var hits []hit
	pageID := entry.Start
	for {
		next, rows, err := db.pager.ReadPageObjects(pageID)
		if err != nil {
			return 0, err
		}
		for _, row := range rows {
			if match(row) {
				hits = append(hits, hit{pageID: pageID, old: row})
			}
		}
		if next == 0 {
			break
		}
		pageID = next
	}

	updated := 0
	for _, h := range hits {
		newRow := transform(h.old)
		if err := db.rewriteRow(entry, h.pageID, h.old, newRow); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// rewriteRow replaces old with new on its page, relocating when it outgrows
// the page.
func (db *Database) rewriteRow(entry *TableEntry, pageID uint32, old, new Row) error {
	payload, err := storage.EncodeRow(new)
	if err != nil {
		return err
	}
	page, err := db.pageFor(pageID)
	if err != nil {
		return err
	}
	if len(payload) > page.MaxRecordSize() {
		return fmt.Errorf("%w: %d bytes", ErrRowTooLarge, len(payload))
	}
	rows, err := page.Records()
	if err != nil {
		return err
	}
	found := -1
	for i, row := range rows {
		if sameRow(row, old) {
			found = i
			break
		}
	}
	if found < 0 {
		return fmt.Errorf("%w: row to update", ErrNotFound)
	}
	fit, err := page.RewriteRecordAt(found, payload)
	if err != nil {
		return err
	}
	if fit {
		if err := db.pager.WritePage(pageID, page.Buf); err != nil {
			return err
		}
		db.indexRowRemoved(entry.Name, old, pageID)
		db.indexRowAdded(entry.Name, new, pageID)
		return nil
	}

	// grew past the free slot: drop here, append at the tail
	if err := page.DeleteRecordAt(found); err != nil {
		return err
	}
	if err := db.pager.WritePage(pageID, page.Buf); err != nil {
		return err
	}
	db.indexRowRemoved(entry.Name, old, pageID)
	_, err = db.appendRow(entry, new)
	return err
}

// ScanPage yields the rows of one page of a table's chain; the index fast
// path uses it with page hints from row refs.
func (db *Database) ScanPage(table string, pageID uint32, fn func(row Row) error) error {
	if _, ok := db.catalog[table]; !ok {
		return fmt.Errorf("%w: table %q", ErrNotFound, table)
	}
	_, rows, err := db.pager.ReadPageObjects(pageID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// RewriteRow replaces old with new on its page, relocating on growth.
func (db *Database) RewriteRow(table string, pageID uint32, old, new Row) error {
	entry, ok := db.catalog[table]
	if !ok {
		return fmt.Errorf("%w: table %q", ErrNotFound, table)
	}
	return db.rewriteRow(entry, pageID, old, new)
}

// DeleteRow removes one row from the page it was scanned on.
func (db *Database) DeleteRow(table string, pageID uint32, row Row) (int, error) {
	entry, ok := db.catalog[table]
	if !ok {
		return 0, fmt.Errorf("%w: table %q", ErrNotFound, table)
	}
	return db.deleteRowsOnPage(entry, pageID, []Row{row})
}

// Stats summarizes the open database for SHOW STATS.
func (db *Database) Stats() Row {
	userTables := 0
	for _, e := range db.catalog {
		if !e.System {
			userTables++
		}
	}
	indexCount := 0
	for _, fields := range db.indexes {
		indexCount += len(fields)
	}
	return Row{
		"database": db.Name,
		"tables":   userTables,
		"views":    len(db.views),
		"indexes":  indexCount,
		"pages":    db.pager.PageCount(),
	}
}

// RowCount scans a table and counts rows; also used by invariants in tests.
func (db *Database) RowCount(name string) (int, error) {
	n := 0
	err := db.ScanTable(name, func(Row, uint32) error {
		n++
		return nil
	})
	return n, err
}

func isPageFull(err error) bool {
	return errors.Is(err, storage.ErrPageFull)
}

// indexRowAdded/indexRowRemoved keep secondary indexes in step with the
// chain; every mutation path above calls them.
func (db *Database) indexRowAdded(table string, row Row, pageID uint32) {
	for field, ix := range db.indexes[table] {
		if v, ok := row[field]; ok {
			ix.Insert(v, index.RowRef{Page: pageID})
		}
	}
}

func (db *Database) indexRowRemoved(table string, row Row, pageID uint32) {
	for field, ix := range db.indexes[table] {
		if v, ok := row[field]; ok {
			ix.Delete(v, index.RowRef{Page: pageID})
		}
	}
}
