package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawitdb/sawitdb/internal/wal"
)

func openTestDB(t *testing.T, dir string) *Database {
	t.Helper()
	db, err := Open(dir, "testdb", Options{
		WALEnabled:  true,
		WALSyncMode: wal.SyncNever,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDatabase_CreateTableAndInsert(t *testing.T) {
	db := openTestDB(t, t.TempDir())

	_, err := db.CreateTable("users", false)
	require.NoError(t, err)

	_, err = db.AppendRow("users", Row{"id": float64(1), "name": "A"})
	require.NoError(t, err)

	var rows []Row
	require.NoError(t, db.ScanTable("users", func(row Row, _ uint32) error {
		rows = append(rows, row)
		return nil
	}))
	require.Len(t, rows, 1)
	assert.Equal(t, "A", rows[0]["name"])
}

func TestDatabase_CreateTableReservedNameFails(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	_, err := db.CreateTable("_secret", false)
	require.ErrorIs(t, err, ErrReservedName)
}

func TestDatabase_DuplicateTableFails(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	_, err := db.CreateTable("t", false)
	require.NoError(t, err)
	_, err = db.CreateTable("t", false)
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestDatabase_CatalogSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "r", Options{WALEnabled: true, WALSyncMode: wal.SyncNever})
	require.NoError(t, err)
	_, err = db.CreateTable("persisted", false)
	require.NoError(t, err)
	_, err = db.AppendRow("persisted", Row{"k": "v"})
	require.NoError(t, err)
	require.NoError(t, db.CommitStatement())
	require.NoError(t, db.Close())

	db2, err := Open(dir, "r", Options{WALEnabled: true, WALSyncMode: wal.SyncNever})
	require.NoError(t, err)
	defer db2.Close()

	entry, ok := db2.FindTableEntry("persisted")
	require.True(t, ok)
	assert.NotZero(t, entry.Start)

	n, err := db2.RowCount("persisted")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDatabase_PageChainGrowth(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	_, err := db.CreateTable("big", false)
	require.NoError(t, err)

	// rows large enough that a handful forces new page allocations
	payload := strings.Repeat("x", 900)
	const rows = 40
	for i := 0; i < rows; i++ {
		_, err := db.AppendRow("big", Row{"i": float64(i), "pad": payload})
		require.NoError(t, err)
	}

	entry, _ := db.FindTableEntry("big")
	assert.NotEqual(t, entry.Start, entry.Last, "chain should have grown")

	n, err := db.RowCount("big")
	require.NoError(t, err)
	assert.Equal(t, rows, n)

	// invariant: sum of page counts equals scan cardinality
	pages := map[uint32]int{}
	require.NoError(t, db.ScanTable("big", func(_ Row, pageID uint32) error {
		pages[pageID]++
		return nil
	}))
	total := 0
	for _, c := range pages {
		total += c
	}
	assert.Equal(t, rows, total)
}

func TestDatabase_RowTooLarge(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	_, err := db.CreateTable("t", false)
	require.NoError(t, err)
	_, err = db.AppendRow("t", Row{"blob": strings.Repeat("y", 5000)})
	require.ErrorIs(t, err, ErrRowTooLarge)
}

func TestDatabase_UpdateInPlaceAndRelocate(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	_, err := db.CreateTable("t", false)
	require.NoError(t, err)

	var pageID uint32
	pageID, err = db.AppendRow("t", Row{"id": float64(1), "v": "small"})
	require.NoError(t, err)

	// shrink: rewritten in place
	require.NoError(t, db.RewriteRow("t", pageID, Row{"id": float64(1), "v": "small"},
		Row{"id": float64(1), "v": "s"}))

	var got Row
	require.NoError(t, db.ScanTable("t", func(row Row, _ uint32) error {
		got = row
		return nil
	}))
	assert.Equal(t, "s", got["v"])

	// grow past the page: relocated to the tail, row count unchanged
	filler := strings.Repeat("f", 3000)
	_, err = db.AppendRow("t", Row{"id": float64(2), "pad": filler})
	require.NoError(t, err)

	grown := Row{"id": float64(1), "v": strings.Repeat("g", 2000)}
	require.NoError(t, db.RewriteRow("t", pageID, got, grown))

	n, err := db.RowCount("t")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDatabase_DeleteCompactsAndCounts(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	_, err := db.CreateTable("t", false)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := db.AppendRow("t", Row{"id": float64(i)})
		require.NoError(t, err)
	}
	entry, _ := db.FindTableEntry("t")
	n, err := db.deleteRows(entry, func(r Row) bool {
		id, _ := r["id"].(float64)
		return int(id)%2 == 0
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := db.RowCount("t")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDatabase_IndexMaintainedThroughMutations(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	_, err := db.CreateTable("t", false)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := db.AppendRow("t", Row{"id": float64(i)})
		require.NoError(t, err)
	}
	require.NoError(t, db.CreateIndex("t", "id"))

	ix, ok := db.LookupIndex("t", "id")
	require.True(t, ok)
	assert.Equal(t, 10, ix.Stats().Entries)

	// insert after index creation
	pageID, err := db.AppendRow("t", Row{"id": float64(42)})
	require.NoError(t, err)
	refs := ix.Find(float64(42))
	require.Len(t, refs, 1)
	assert.Equal(t, pageID, refs[0].Page)

	// delete drops the entry
	entry, _ := db.FindTableEntry("t")
	_, err = db.deleteRows(entry, func(r Row) bool {
		id, _ := r["id"].(float64)
		return id == 42
	})
	require.NoError(t, err)
	assert.Empty(t, ix.Find(float64(42)))
}

func TestDatabase_IndexRebuiltOnOpen(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "ix", Options{WALEnabled: true, WALSyncMode: wal.SyncNever})
	require.NoError(t, err)
	_, err = db.CreateTable("t", false)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := db.AppendRow("t", Row{"id": float64(i)})
		require.NoError(t, err)
	}
	require.NoError(t, db.CreateIndex("t", "id"))
	require.NoError(t, db.CommitStatement())
	require.NoError(t, db.Close())

	db2, err := Open(dir, "ix", Options{WALEnabled: true, WALSyncMode: wal.SyncNever})
	require.NoError(t, err)
	defer db2.Close()

	ix, ok := db2.LookupIndex("t", "id")
	require.True(t, ok)
	assert.Equal(t, 7, ix.Stats().Entries)
}

func TestDatabase_SchemaCoercion(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	_, err := db.CreateTable("people", false)
	require.NoError(t, err)

	require.NoError(t, db.DefineSchema("people", []SchemaField{
		{Name: "age", Type: "ANGKA", Required: true},
		{Name: "vip", Type: "BOOLEAN", Default: false, HasDef: true},
		{Name: "joined", Type: "TANGGAL"},
	}))

	row, err := db.CoerceRow("people", Row{"age": "30", "joined": "2024-06-01", "extra": "kept"})
	require.NoError(t, err)
	assert.Equal(t, float64(30), row["age"])
	assert.Equal(t, false, row["vip"])
	assert.Equal(t, "kept", row["extra"])
	joined, _ := row["joined"].(string)
	assert.True(t, strings.HasPrefix(joined, "2024-06-01T"))

	// boolean acceptance set
	row, err = db.CoerceRow("people", Row{"age": 1, "vip": "true"})
	require.NoError(t, err)
	assert.Equal(t, true, row["vip"])

	_, err = db.CoerceRow("people", Row{"vip": true})
	require.ErrorIs(t, err, ErrConstraintViolation, "missing required field")

	_, err = db.CoerceRow("people", Row{"age": "not-a-number"})
	require.ErrorIs(t, err, ErrConstraintViolation)
}

func TestDatabase_ViewsTriggersProceduresPersist(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "svc", Options{WALEnabled: true, WALSyncMode: wal.SyncNever})
	require.NoError(t, err)

	require.NoError(t, db.CreateView("v1", "SELECT * FROM t"))
	require.NoError(t, db.CreateTrigger(Trigger{
		Name: "tr1", Table: "t", Timing: "AFTER", Event: "INSERT", Action: "SELECT * FROM t",
	}))
	require.NoError(t, db.CreateProcedure("p1", []string{"CREATE TABLE a", "CREATE TABLE b"}))
	require.NoError(t, db.CommitStatement())
	require.NoError(t, db.Close())

	db2, err := Open(dir, "svc", Options{WALEnabled: true, WALSyncMode: wal.SyncNever})
	require.NoError(t, err)
	defer db2.Close()

	stmt, ok := db2.View("v1")
	require.True(t, ok)
	assert.Equal(t, "SELECT * FROM t", stmt)

	trs := db2.TriggersFor("t", "AFTER", "INSERT")
	require.Len(t, trs, 1)
	assert.Equal(t, "tr1", trs[0].Name)

	stmts, ok := db2.Procedure("p1")
	require.True(t, ok)
	assert.Equal(t, []string{"CREATE TABLE a", "CREATE TABLE b"}, stmts)
}

func TestDatabase_WALRecoveryRestoresCommittedState(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "crash", Options{WALEnabled: true, WALSyncMode: wal.SyncCommit})
	require.NoError(t, err)
	_, err = db.CreateTable("t", false)
	require.NoError(t, err)
	const rows = 200
	for i := 0; i < rows; i++ {
		_, err := db.AppendRow("t", Row{"id": float64(i), "p": fmt.Sprintf("row-%d", i)})
		require.NoError(t, err)
	}
	require.NoError(t, db.CommitStatement())
	// simulated crash: no Close, no checkpoint; the WAL holds the images
	db.closeFiles()

	db2, err := Open(dir, "crash", Options{WALEnabled: true, WALSyncMode: wal.SyncCommit})
	require.NoError(t, err)
	defer db2.Close()

	n, err := db2.RowCount("t")
	require.NoError(t, err)
	assert.Equal(t, rows, n)

	// repeated reopen stays stable (idempotent recovery)
	require.NoError(t, db2.Close())
	db3, err := Open(dir, "crash", Options{WALEnabled: true, WALSyncMode: wal.SyncCommit})
	require.NoError(t, err)
	defer db3.Close()
	n, err = db3.RowCount("t")
	require.NoError(t, err)
	assert.Equal(t, rows, n)
}

func TestDatabase_BackupRestore(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "bk", Options{WALEnabled: false})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.CreateTable("t", false)
	require.NoError(t, err)
	_, err = db.AppendRow("t", Row{"id": float64(1)})
	require.NoError(t, err)

	_, err = db.Backup("snap1")
	require.NoError(t, err)

	_, err = db.AppendRow("t", Row{"id": float64(2)})
	require.NoError(t, err)

	require.NoError(t, db.Restore("snap1"))
	n, err := db.RowCount("t")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDatabase_BackupRejectsPathTraversal(t *testing.T) {
	db := openTestDB(t, t.TempDir())
	_, err := db.Backup("../evil")
	require.ErrorIs(t, err, ErrConstraintViolation)
}

func TestDropDatabaseFiles(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, "gone", Options{WALEnabled: true, WALSyncMode: wal.SyncNever})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	require.NoError(t, DropDatabaseFiles(dir, "gone"))
	require.ErrorIs(t, DropDatabaseFiles(dir, "gone"), ErrNotFound)
}
