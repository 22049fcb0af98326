// Package engine owns one open database: the pager and WAL underneath it,
// the self-hosted catalog, secondary indexes, and the system-table services
// (schemas, views, triggers, procedures). A Database is owned by exactly one
// worker; nothing here locks.
package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sawitdb/sawitdb/internal/index"
	"github.com/sawitdb/sawitdb/internal/storage"
	"github.com/sawitdb/sawitdb/internal/wal"
)

const (
	FileExt      = ".sawit"
	WALExt       = ".wal"
	AuditExt     = ".audit"
	CatalogTable = "_tables"

	SysIndexes    = "_indexes"
	SysViews      = "_views"
	SysSchemas    = "_schemas"
	SysTriggers   = "_triggers"
	SysProcedures = "_procedures"
)

// Row is the engine's row type, shared with storage.
type Row = storage.Row

// Options configures an open database.
type Options struct {
	WALEnabled         bool
	WALSyncMode        wal.SyncMode
	CheckpointInterval int // commits between checkpoints, 0 = default
	BufferPages        int
	ObjectPages        int
	Audit              bool
	Logger             *zap.Logger
	Observer           Observer
}

// Database is one open database file plus its in-memory state.
type Database struct {
	Name string
	dir  string
	path string

	pager *storage.Pager
	wal   *wal.Log
	opts  Options
	log   *zap.Logger

	catalog    map[string]*TableEntry
	indexes    map[string]map[string]*index.Index // table -> field -> index
	schemas    map[string][]SchemaField
	views      map[string]string
	triggers   map[string][]Trigger
	procedures map[string][]string

	observer Observer
	audit    *os.File

	commits int
}

// Open opens or creates the database <dir>/<name>.sawit, replaying the WAL
// first when one is present.
func Open(dir, name string, opts Options) (*Database, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = 1000
	}

	db := &Database{
		Name:     name,
		dir:      dir,
		path:     filepath.Join(dir, name+FileExt),
		opts:     opts,
		log:      opts.Logger.With(zap.String("db", name)),
		observer: opts.Observer,
	}
	if err := db.open(); err != nil {
		return nil, err
	}
	if opts.Audit {
		f, err := os.OpenFile(db.path[:len(db.path)-len(FileExt)]+AuditExt,
			os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			db.log.Warn("audit log unavailable", zap.Error(err))
		} else {
			db.audit = f
		}
	}
	return db, nil
}

func (db *Database) open() error {
	walPath := filepath.Join(db.dir, db.Name+WALExt)

	if db.opts.WALEnabled {
		if err := db.recoverFromWAL(walPath); err != nil {
			return err
		}
	}

	pager, err := storage.OpenPager(db.path, storage.PagerOptions{
		BufferPages: db.opts.BufferPages,
		ObjectPages: db.opts.ObjectPages,
		Logger:      db.log,
	})
	if err != nil {
		return err
	}
	db.pager = pager

	if db.opts.WALEnabled {
		w, err := wal.Open(walPath, wal.Options{SyncMode: db.opts.WALSyncMode, Logger: db.log})
		if err != nil {
			pager.Close()
			return err
		}
		db.wal = w
		pager.SetWAL(w)
	}

	if err := db.loadCatalog(); err != nil {
		db.closeFiles()
		return err
	}
	if err := db.warmManagers(); err != nil {
		db.closeFiles()
		return err
	}
	if err := db.rebuildIndexes(); err != nil {
		db.closeFiles()
		return err
	}
	return nil
}

// recoverFromWAL applies committed page images to the main file, then
// truncates the log. Runs against the raw file before the pager caches
// anything, so repeated reopens are idempotent.
func (db *Database) recoverFromWAL(walPath string) error {
	info, err := os.Stat(walPath)
	if err != nil || info.Size() == 0 {
		return nil
	}

	f, err := os.OpenFile(db.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open for recovery: %v", storage.ErrStorageFault, err)
	}
	applied := 0
	replayErr := wal.Replay(walPath, func(pageID uint32, page []byte) error {
		if _, err := f.WriteAt(page, int64(pageID)*storage.PageSize); err != nil {
			return fmt.Errorf("%w: recovery write page %d: %v", storage.ErrStorageFault, pageID, err)
		}
		applied++
		return nil
	})
	if replayErr != nil {
		f.Close()
		return fmt.Errorf("%w: wal replay: %v", storage.ErrStorageFault, replayErr)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: recovery sync: %v", storage.ErrStorageFault, err)
	}
	f.Close()

	if applied > 0 {
		db.log.Info("wal recovery applied", zap.Int("pages", applied))
	}
	// checkpoint: recovered state is durable, the log restarts empty
	w, err := wal.Open(walPath, wal.Options{Logger: db.log})
	if err != nil {
		return err
	}
	defer w.Close()
	return w.Checkpoint()
}

func (db *Database) closeFiles() {
	if db.wal != nil {
		db.wal.Close()
		db.wal = nil
	}
	if db.pager != nil {
		db.pager.Close()
		db.pager = nil
	}
}

func (db *Database) Path() string { return db.path }

// Flush forces WAL and data file to durable storage.
func (db *Database) Flush() error {
	return db.pager.Flush()
}

// CommitStatement seals the current statement's page images with a commit
// marker and periodically checkpoints.
func (db *Database) CommitStatement() error {
	if db.wal == nil {
		return nil
	}
	if _, err := db.wal.Commit(); err != nil {
		return err
	}
	db.commits++
	if db.commits >= db.opts.CheckpointInterval {
		db.commits = 0
		if err := db.pager.Flush(); err != nil {
			return err
		}
		if err := db.wal.Checkpoint(); err != nil {
			return err
		}
		db.log.Debug("wal checkpoint")
	}
	return nil
}

func (db *Database) Close() error {
	if db.pager == nil {
		return nil
	}
	err := db.pager.Flush()
	if db.wal != nil {
		// everything durable in the main file: retire the log
		if err == nil {
			if cerr := db.wal.Checkpoint(); cerr != nil {
				db.log.Warn("checkpoint on close failed", zap.Error(cerr))
			}
		}
		db.wal.Close()
		db.wal = nil
	}
	if db.audit != nil {
		db.audit.Close()
		db.audit = nil
	}
	perr := db.pager.Close()
	db.pager = nil
	if err != nil {
		return err
	}
	return perr
}

// reopen tears down and reopens the file-backed state; used by RESTORE.
func (db *Database) reopen() error {
	db.closeFiles()
	db.catalog = nil
	db.indexes = nil
	db.schemas = nil
	db.views = nil
	db.triggers = nil
	db.procedures = nil
	return db.open()
}

// Backup copies the flushed database file to <name> inside the database
// directory. The name must be a plain file name.
func (db *Database) Backup(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("%w: backup name %q", ErrConstraintViolation, name)
	}
	if err := db.Flush(); err != nil {
		return "", err
	}
	dst := filepath.Join(db.dir, name)
	if err := copyFile(db.path, dst); err != nil {
		return "", err
	}
	db.Audit("BACKUP", name, 0)
	return dst, nil
}

// Restore replaces the database file with a backup and reopens.
func (db *Database) Restore(name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("%w: restore name %q", ErrConstraintViolation, name)
	}
	src := filepath.Join(db.dir, name)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("%w: backup %q", ErrNotFound, name)
	}
	db.closeFiles()
	if err := copyFile(src, db.path); err != nil {
		return err
	}
	// a restored file supersedes any log contents
	os.Remove(filepath.Join(db.dir, db.Name+WALExt))
	if err := db.reopen(); err != nil {
		return err
	}
	db.Audit("RESTORE", name, 0)
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStorageFault, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStorageFault, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStorageFault, err)
	}
	return out.Sync()
}

// Audit appends one JSON line to the audit file when auditing is on.
func (db *Database) Audit(op, table string, rows int) {
	if db.audit == nil {
		return
	}
	line, err := json.Marshal(map[string]any{
		"ts":    time.Now().Unix(),
		"op":    op,
		"table": table,
		"rows":  rows,
	})
	if err != nil {
		return
	}
	line = append(line, '\n')
	if _, err := db.audit.Write(line); err != nil {
		db.log.Warn("audit write failed", zap.Error(err))
	}
}

// Observer returns the configured event sink, never nil.
func (db *Database) Observer() Observer {
	if db.observer == nil {
		return nopObserver{}
	}
	return db.observer
}

// DropDatabaseFiles removes every file belonging to a database. The caller
// closes any open handle first.
func DropDatabaseFiles(dir, name string) error {
	if err := os.Remove(filepath.Join(dir, name+FileExt)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: database %q", ErrNotFound, name)
		}
		return fmt.Errorf("%w: %v", storage.ErrStorageFault, err)
	}
	os.Remove(filepath.Join(dir, name+WALExt))
	os.Remove(filepath.Join(dir, name+AuditExt))
	return nil
}
