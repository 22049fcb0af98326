package engine

import "errors"

var (
	ErrNotFound            = errors.New("engine: not found")
	ErrAlreadyExists       = errors.New("engine: already exists")
	ErrConstraintViolation = errors.New("engine: constraint violation")
	ErrReservedName        = errors.New("engine: reserved system table name")
	ErrNoTransaction       = errors.New("engine: no active transaction")
	ErrTransactionActive   = errors.New("engine: transaction already active")
	ErrRowTooLarge         = errors.New("engine: row exceeds page capacity")
)
