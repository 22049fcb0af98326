// Package executor runs parsed commands against an open database. Executors
// return results as values; errors are values too and never carry stack
// traces across the wire.
package executor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/sawitdb/sawitdb/internal/engine"
	"github.com/sawitdb/sawitdb/internal/sql/parser"
)

// Row aliases the engine row type.
type Row = engine.Row

// Executor executes commands for one database. The session supplies the
// transaction buffer; one executor serves every session routed to its
// database's worker.
type Executor struct {
	DB    *engine.Database
	cache *parser.Cache
	log   *zap.Logger
}

func New(db *engine.Database, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		DB:    db,
		cache: parser.NewCache(parser.DefaultCacheSize),
		log:   logger,
	}
}

// ExecSQL parses (through the template cache) and executes one statement.
func (e *Executor) ExecSQL(text string, params map[string]any, sess *engine.Session) (any, error) {
	cmd := e.cache.Parse(text, params)
	return e.Exec(cmd, sess)
}

// Exec dispatches a parsed command. Mutations inside an active transaction
// are buffered instead of applied.
func (e *Executor) Exec(cmd parser.Command, sess *engine.Session) (any, error) {
	switch cmd.Kind {
	case parser.KindError:
		return nil, fmt.Errorf("parse error: %s", cmd.Err)
	case parser.KindEmpty:
		return "", nil

	case parser.KindBegin:
		if err := sess.Begin(); err != nil {
			return nil, err
		}
		return "Transaction started", nil

	case parser.KindCommit:
		return e.commitTxn(sess)

	case parser.KindRollback:
		if err := sess.Rollback(); err != nil {
			return nil, err
		}
		return "Transaction rolled back", nil

	case parser.KindInsert, parser.KindUpdate, parser.KindDelete:
		if sess != nil && sess.InTransaction() {
			sess.Buffer(cmd)
			return fmt.Sprintf("%s buffered in transaction", cmd.Kind), nil
		}
		switch cmd.Kind {
		case parser.KindInsert:
			return e.execInsert(&cmd)
		case parser.KindUpdate:
			return e.execUpdate(&cmd)
		default:
			return e.execDelete(&cmd)
		}

	case parser.KindSelect:
		return e.execSelect(&cmd)
	case parser.KindAggregate:
		return e.execAggregate(&cmd)
	case parser.KindExplain:
		return e.execExplain(&cmd)

	case parser.KindCreateTable:
		if _, err := e.DB.CreateTable(cmd.Table, false); err != nil {
			return nil, err
		}
		if err := e.DB.CommitStatement(); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Table %s created", cmd.Table), nil

	case parser.KindDropTable:
		if err := e.DB.DropTable(cmd.Table); err != nil {
			return nil, err
		}
		if err := e.DB.CommitStatement(); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Table %s dropped", cmd.Table), nil

	case parser.KindShowTables:
		return e.showTables(), nil

	case parser.KindCreateIndex:
		if err := e.DB.CreateIndex(cmd.Table, cmd.Field); err != nil {
			return nil, err
		}
		if err := e.DB.CommitStatement(); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Index created on %s(%s)", cmd.Table, cmd.Field), nil

	case parser.KindShowIndexes:
		stats := e.DB.IndexStats()
		rows := make([]Row, 0, len(stats))
		for _, s := range stats {
			rows = append(rows, Row{
				"table":   s.Table,
				"field":   s.Field,
				"keys":    s.Keys,
				"entries": s.Entries,
			})
		}
		return rows, nil

	case parser.KindShowStats:
		return e.DB.Stats(), nil

	case parser.KindCreateView:
		return e.execCreateView(&cmd)
	case parser.KindDropView:
		if err := e.DB.DropView(cmd.Name); err != nil {
			return nil, err
		}
		if err := e.DB.CommitStatement(); err != nil {
			return nil, err
		}
		return fmt.Sprintf("View %s dropped", cmd.Name), nil

	case parser.KindDefineSchema:
		fields := make([]engine.SchemaField, len(cmd.SchemaFields))
		for i, f := range cmd.SchemaFields {
			fields[i] = engine.SchemaField{
				Name:     f.Name,
				Type:     f.Type,
				Required: f.Required,
				Default:  f.Default,
				HasDef:   f.HasDef,
			}
		}
		if err := e.DB.DefineSchema(cmd.Table, fields); err != nil {
			return nil, err
		}
		if err := e.DB.CommitStatement(); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Schema defined for %s", cmd.Table), nil

	case parser.KindCreateTrigger:
		t := engine.Trigger{
			Name:   cmd.Name,
			Table:  cmd.Table,
			Timing: cmd.TriggerTiming,
			Event:  cmd.TriggerEvent,
			Action: cmd.TriggerAction,
		}
		if err := e.DB.CreateTrigger(t); err != nil {
			return nil, err
		}
		if err := e.DB.CommitStatement(); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Trigger %s created", cmd.Name), nil

	case parser.KindDropTrigger:
		if err := e.DB.DropTrigger(cmd.Name); err != nil {
			return nil, err
		}
		if err := e.DB.CommitStatement(); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Trigger %s dropped", cmd.Name), nil

	case parser.KindCreateProc:
		if err := e.DB.CreateProcedure(cmd.Name, cmd.Statements); err != nil {
			return nil, err
		}
		if err := e.DB.CommitStatement(); err != nil {
			return nil, err
		}
		return fmt.Sprintf("Procedure %s created", cmd.Name), nil

	case parser.KindExecuteProc:
		return e.execProcedure(&cmd, sess)

	case parser.KindBackup:
		dst, err := e.DB.Backup(cmd.Name)
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("Backup written to %s", dst), nil

	case parser.KindRestore:
		if err := e.DB.Restore(cmd.Name); err != nil {
			return nil, err
		}
		return "Database restored", nil

	default:
		return nil, fmt.Errorf("executor: unsupported command %s", cmd.Kind)
	}
}

// commitTxn replays the buffered operations in order. The first failure
// stops the replay; the buffer is already discarded, and operations replayed
// before the failing one stay applied.
func (e *Executor) commitTxn(sess *engine.Session) (any, error) {
	ops, err := sess.TakeOps()
	if err != nil {
		return nil, err
	}
	for i, op := range ops {
		if _, err := e.Exec(op, sess); err != nil {
			return nil, fmt.Errorf("commit aborted at operation %d: %w", i+1, err)
		}
	}
	return fmt.Sprintf("Transaction committed (%d operations)", len(ops)), nil
}

func (e *Executor) showTables() []Row {
	var rows []Row
	for _, name := range e.DB.TableNames(false) {
		rows = append(rows, Row{"name": name, "type": "table"})
	}
	for _, name := range e.DB.ViewNames() {
		rows = append(rows, Row{"name": name, "type": "view"})
	}
	if rows == nil {
		rows = []Row{}
	}
	return rows
}

func (e *Executor) execCreateView(cmd *parser.Command) (any, error) {
	if cmd.Select == nil || cmd.Select.Text == "" {
		return nil, fmt.Errorf("executor: view %s has no statement", cmd.Name)
	}
	if err := e.DB.CreateView(cmd.Name, cmd.Select.Text); err != nil {
		return nil, err
	}
	if err := e.DB.CommitStatement(); err != nil {
		return nil, err
	}
	return fmt.Sprintf("View %s created", cmd.Name), nil
}

func (e *Executor) execProcedure(cmd *parser.Command, sess *engine.Session) (any, error) {
	stmts, ok := e.DB.Procedure(cmd.Name)
	if !ok {
		return nil, fmt.Errorf("%w: procedure %q", engine.ErrNotFound, cmd.Name)
	}
	results := make([]any, 0, len(stmts))
	for i, stmt := range stmts {
		res, err := e.ExecSQL(stmt, nil, sess)
		if err != nil {
			return nil, fmt.Errorf("procedure %s: statement %d: %w", cmd.Name, i+1, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// runTriggers executes every matching trigger action in a throwaway session
// so actions never leak into a user transaction. Trigger failure is logged
// and never fails the outer operation.
func (e *Executor) runTriggers(table, timing, event string) {
	sess := &engine.Session{Authenticated: true}
	for _, t := range e.DB.TriggersFor(table, timing, event) {
		if _, err := e.ExecSQL(t.Action, nil, sess); err != nil {
			e.log.Warn("trigger action failed",
				zap.String("trigger", t.Name),
				zap.String("table", table),
				zap.Error(err))
		}
	}
}
