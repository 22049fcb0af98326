package storage

import "errors"

var (
	// ErrStorageFault covers out-of-range page ids, short reads and any
	// structural corruption detected while decoding a page.
	ErrStorageFault = errors.New("storage: storage fault")

	ErrOutOfSpace = errors.New("storage: out of space")
	ErrPageFull   = errors.New("storage: record does not fit in page")
	ErrBadRecord  = errors.New("storage: corrupt record bounds")
	ErrClosed     = errors.New("storage: pager is closed")
)
