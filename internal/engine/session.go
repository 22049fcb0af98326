package engine

import "github.com/sawitdb/sawitdb/internal/sql/parser"

// Session is the only mutable per-connection state: auth flag, the selected
// database and an optional transaction buffer.
type Session struct {
	ID              string
	Authenticated   bool
	CurrentDatabase string
	Txn             *Txn
}

// Txn buffers mutating commands between BEGIN and COMMIT. While active,
// reads see only committed state; buffered changes are invisible even to the
// session that wrote them.
type Txn struct {
	Ops []parser.Command
}

// Begin opens a transaction on the session.
func (s *Session) Begin() error {
	if s.Txn != nil {
		return ErrTransactionActive
	}
	s.Txn = &Txn{}
	return nil
}

// Buffer records one mutation for replay at COMMIT.
func (s *Session) Buffer(cmd parser.Command) {
	s.Txn.Ops = append(s.Txn.Ops, cmd)
}

// TakeOps closes the transaction and returns its buffered operations in
// order; used by COMMIT.
func (s *Session) TakeOps() ([]parser.Command, error) {
	if s.Txn == nil {
		return nil, ErrNoTransaction
	}
	ops := s.Txn.Ops
	s.Txn = nil
	return ops, nil
}

// Rollback discards the buffer.
func (s *Session) Rollback() error {
	if s.Txn == nil {
		return ErrNoTransaction
	}
	s.Txn = nil
	return nil
}

// InTransaction reports whether a buffer is active.
func (s *Session) InTransaction() bool { return s.Txn != nil }
