// Package server is the network front-end: a TCP listener speaking
// newline-delimited JSON, dispatching statements onto a worker pool bound
// one-database-per-worker.
package server

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sawitdb/sawitdb/internal/config"
	"github.com/sawitdb/sawitdb/internal/engine"
	"github.com/sawitdb/sawitdb/internal/wal"
)

// dbNameRe guards against path traversal in database names.
var dbNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type Server struct {
	cfg   *config.Config
	log   *zap.Logger
	pool  *Pool
	stats *Stats

	queryTimeout time.Duration
	ln           net.Listener
}

func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("server: create data dir: %w", err)
	}

	opts := engine.Options{
		WALEnabled:         cfg.WAL.Enabled,
		WALSyncMode:        wal.SyncMode(cfg.WAL.SyncMode),
		CheckpointInterval: cfg.WAL.CheckpointInterval,
		Audit:              cfg.Audit,
		Logger:             log,
	}

	return &Server{
		cfg:          cfg,
		log:          log,
		pool:         NewPool(cfg.WorkerCount, cfg.DataDir, opts, log),
		stats:        NewStats(),
		queryTimeout: time.Duration(cfg.QueryTimeoutMs) * time.Millisecond,
	}, nil
}

// Run listens and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.ln = ln
	defer ln.Close()
	s.log.Info("sawitdb listening",
		zap.String("addr", addr),
		zap.String("dataDir", s.cfg.DataDir),
		zap.Int("workers", s.pool.WorkerCount()))

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		sock, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.pool.Close()
				return nil
			default:
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		if int(s.stats.ConnectionsActive.Load()) >= s.cfg.MaxConnections {
			s.log.Warn("connection limit reached, rejecting",
				zap.String("remote", sock.RemoteAddr().String()))
			sock.Close()
			continue
		}
		go s.serveConn(sock)
	}
}

func (s *Server) authRequired() bool { return len(s.cfg.Auth.Users) > 0 }

func (s *Server) authenticate(username, password string) bool {
	stored, ok := s.cfg.Auth.Users[username]
	if !ok {
		// burn comparable time for unknown users
		VerifyPassword("0:0", password)
		return false
	}
	return VerifyPassword(stored, password)
}

func validDBName(name string) error {
	if !dbNameRe.MatchString(name) {
		return fmt.Errorf("server: invalid database name %q", name)
	}
	return nil
}

func (s *Server) dbPath(name string) string {
	return filepath.Join(s.cfg.DataDir, name+engine.FileExt)
}

func (s *Server) databaseExists(name string) bool {
	_, err := os.Stat(s.dbPath(name))
	return err == nil
}

func (s *Server) listDatabases() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.cfg.DataDir, "*"+engine.FileExt))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		base := filepath.Base(m)
		names = append(names, strings.TrimSuffix(base, engine.FileExt))
	}
	sort.Strings(names)
	return names, nil
}

func (s *Server) selectDatabase(sess *engine.Session, name string) error {
	if err := validDBName(name); err != nil {
		return err
	}
	if !s.databaseExists(name) {
		return fmt.Errorf("database %q does not exist", name)
	}
	sess.CurrentDatabase = name
	return nil
}

// createDatabase creates an empty database file. No worker owns the name
// yet (the file did not exist), so creating inline is safe.
func (s *Server) createDatabase(name string) error {
	if err := validDBName(name); err != nil {
		return err
	}
	if s.databaseExists(name) {
		return fmt.Errorf("database %q already exists", name)
	}
	db, err := engine.Open(s.cfg.DataDir, name, engine.Options{
		WALEnabled:  s.cfg.WAL.Enabled,
		WALSyncMode: wal.SyncMode(s.cfg.WAL.SyncMode),
		Logger:      s.log,
	})
	if err != nil {
		return err
	}
	return db.Close()
}

// dropDatabase closes any open handle through the owning worker, then
// removes the files.
func (s *Server) dropDatabase(name string) error {
	if err := validDBName(name); err != nil {
		return err
	}
	if !s.databaseExists(name) {
		return fmt.Errorf("database %q does not exist", name)
	}
	if err := s.pool.CloseDatabase(name, s.queryTimeout); err != nil {
		return err
	}
	return engine.DropDatabaseFiles(s.cfg.DataDir, name)
}

// serverStatement is one of the statements executed without a current
// database: listing, creating, selecting or dropping a database.
type serverStatement struct {
	verb string // CREATE, USE, SHOW, DROP
	name string
}

// parseServerStatement recognizes the server-level statements in both
// keyword dialects. Anything else is a worker statement.
func parseServerStatement(query string) (serverStatement, bool) {
	fields := strings.Fields(strings.TrimSuffix(strings.TrimSpace(query), ";"))
	if len(fields) < 2 {
		return serverStatement{}, false
	}
	verb := strings.ToUpper(fields[0])
	switch verb {
	case "BUAT":
		verb = "CREATE"
	case "PAKAI":
		verb = "USE"
	case "TAMPILKAN":
		verb = "SHOW"
	case "HAPUS":
		verb = "DROP"
	}

	if verb == "USE" && len(fields) == 2 {
		return serverStatement{verb: "USE", name: fields[1]}, true
	}

	noun := strings.ToUpper(fields[1])
	switch noun {
	case "BASISDATA":
		noun = "DATABASE"
	case "DATABASES":
		noun = "DATABASE"
	}
	if noun != "DATABASE" {
		return serverStatement{}, false
	}

	switch verb {
	case "SHOW":
		if len(fields) == 2 {
			return serverStatement{verb: "SHOW"}, true
		}
	case "CREATE", "DROP":
		if len(fields) == 3 {
			return serverStatement{verb: verb, name: fields[2]}, true
		}
	}
	return serverStatement{}, false
}

func (s *Server) execServerStatement(sess *engine.Session, sc serverStatement) (any, error) {
	switch sc.verb {
	case "SHOW":
		return s.listDatabases()
	case "CREATE":
		if err := s.createDatabase(sc.name); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Database %s created", sc.name), nil
	case "USE":
		if err := s.selectDatabase(sess, sc.name); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Using database %s", sc.name), nil
	case "DROP":
		if err := s.dropDatabase(sc.name); err != nil {
			return nil, err
		}
		if sess.CurrentDatabase == sc.name {
			sess.CurrentDatabase = ""
		}
		return fmt.Sprintf("Database %s dropped", sc.name), nil
	default:
		return nil, fmt.Errorf("server: unsupported statement")
	}
}
