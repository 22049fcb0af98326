package server

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/sawitdb/sawitdb/internal/engine"
	"github.com/sawitdb/sawitdb/internal/sql/executor"
)

var (
	ErrTimeout       = errors.New("server: query timed out")
	ErrWorkerCrashed = errors.New("server: worker crashed")
	ErrPoolClosed    = errors.New("server: pool is closed")
)

const workerQueueDepth = 64

// Task runs inside a worker against the worker-owned database handle.
type Task func(db *engine.Database, exec *executor.Executor) (any, error)

type taskResult struct {
	value any
	err   error
}

type task struct {
	dbName  string
	fn      Task
	closeDB bool
	reply   chan taskResult
}

type dbHandle struct {
	db   *engine.Database
	exec *executor.Executor
}

type worker struct {
	id     int
	tasks  chan task
	active *atomic.Int64
}

// Pool routes queries to workers. A database file is owned by at most one
// worker at a time; routing is sticky by database name, refined least-busy
// for first-time opens (ties break to the lowest id).
type Pool struct {
	dataDir string
	opts    engine.Options
	log     *zap.Logger

	mu      sync.Mutex
	workers []*worker
	owners  map[string]int // database name -> owning worker id
	closed  bool
}

func NewPool(workerCount int, dataDir string, opts engine.Options, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		dataDir: dataDir,
		opts:    opts,
		log:     log,
		owners:  make(map[string]int),
	}
	for i := 0; i < workerCount; i++ {
		w := &worker{
			id:     i,
			tasks:  make(chan task, workerQueueDepth),
			active: atomic.NewInt64(0),
		}
		p.workers = append(p.workers, w)
		go p.run(w)
	}
	return p
}

// run is one worker's loop: sequential statement handling for the files it
// owns. A panic rejects the task that caused it, drains and rejects queued
// tasks, closes the worker's handles and respawns the loop.
func (p *Pool) run(w *worker) {
	handles := make(map[string]*dbHandle)
	var current *task

	defer func() {
		if r := recover(); r != nil {
			p.log.Error("worker crashed", zap.Int("worker", w.id), zap.Any("panic", r))
			for name, h := range handles {
				if err := h.db.Close(); err != nil {
					p.log.Warn("closing database after crash",
						zap.String("db", name), zap.Error(err))
				}
			}
			// reject everything queued behind the crash
		drain:
			for {
				select {
				case t := <-w.tasks:
					t.reply <- taskResult{err: ErrWorkerCrashed}
					w.active.Dec()
				default:
					break drain
				}
			}
			go p.run(w)
			if current != nil {
				current.reply <- taskResult{err: ErrWorkerCrashed}
				w.active.Dec()
			}
		}
	}()

	for t := range w.tasks {
		t := t
		current = &t
		if t.closeDB {
			var res taskResult
			if h, ok := handles[t.dbName]; ok {
				res.err = h.db.Close()
				delete(handles, t.dbName)
			}
			t.reply <- res
			w.active.Dec()
			current = nil
			continue
		}
		h, err := p.handleFor(handles, t.dbName)
		if err != nil {
			t.reply <- taskResult{err: err}
			w.active.Dec()
			current = nil
			continue
		}
		var res taskResult
		res.value, res.err = t.fn(h.db, h.exec)
		t.reply <- res
		w.active.Dec()
		current = nil
	}

	for name, h := range handles {
		if err := h.db.Close(); err != nil {
			p.log.Warn("closing database", zap.String("db", name), zap.Error(err))
		}
	}
}

func (p *Pool) handleFor(handles map[string]*dbHandle, name string) (*dbHandle, error) {
	if h, ok := handles[name]; ok {
		return h, nil
	}
	// opening would create a missing file; a dropped database must not
	// silently come back
	if _, err := os.Stat(filepath.Join(p.dataDir, name+engine.FileExt)); err != nil {
		return nil, fmt.Errorf("%w: database %q", engine.ErrNotFound, name)
	}
	db, err := engine.Open(p.dataDir, name, p.opts)
	if err != nil {
		return nil, err
	}
	h := &dbHandle{db: db, exec: executor.New(db, p.log)}
	handles[name] = h
	return h, nil
}

// pick returns the worker owning name, or the least-busy worker, claiming
// ownership.
func (p *Pool) pick(name string) (*worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	if id, ok := p.owners[name]; ok {
		return p.workers[id], nil
	}
	best := p.workers[0]
	for _, w := range p.workers[1:] {
		if w.active.Load() < best.active.Load() {
			best = w
		}
	}
	p.owners[name] = best.id
	return best, nil
}

// Dispatch routes fn to the worker owning dbName and waits up to timeout.
// On expiry the pending result is dropped; the worker is not interrupted and
// its eventual result is discarded.
func (p *Pool) Dispatch(dbName string, timeout time.Duration, fn Task) (any, error) {
	return p.dispatch(task{dbName: dbName, fn: fn}, timeout)
}

func (p *Pool) dispatch(t task, timeout time.Duration) (any, error) {
	w, err := p.pick(t.dbName)
	if err != nil {
		return nil, err
	}
	t.reply = make(chan taskResult, 1)
	w.active.Inc()

	select {
	case w.tasks <- t:
	case <-time.After(timeout):
		w.active.Dec()
		return nil, ErrTimeout
	}

	select {
	case res := <-t.reply:
		return res.value, res.err
	case <-time.After(timeout):
		return nil, ErrTimeout
	}
}

// CloseDatabase routes a close through the owning worker (so the handle is
// released on the goroutine that owns it) and releases ownership.
func (p *Pool) CloseDatabase(name string, timeout time.Duration) error {
	p.mu.Lock()
	_, owned := p.owners[name]
	p.mu.Unlock()
	if !owned {
		return nil
	}
	_, err := p.dispatch(task{dbName: name, closeDB: true}, timeout)
	p.mu.Lock()
	delete(p.owners, name)
	p.mu.Unlock()
	return err
}

// Close stops every worker after their queues drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	workers := p.workers
	p.mu.Unlock()
	for _, w := range workers {
		close(w.tasks)
	}
}

// WorkerCount reports the pool size.
func (p *Pool) WorkerCount() int { return len(p.workers) }

// ownerOf is exposed for tests asserting sticky routing.
func (p *Pool) ownerOf(name string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, ok := p.owners[name]
	return id, ok
}
