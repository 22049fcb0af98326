package storage

import (
	"container/list"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

const (
	DefaultBufferPages = 256
	DefaultObjectPages = 256
)

// PageLogger receives page images before they reach the main file. Keeps the
// pager decoupled from the wal package.
type PageLogger interface {
	AppendPageImage(pageID uint32, page []byte) (uint64, error)
	Flush() error
}

type bufEntry struct {
	data []byte
	elem *list.Element
}

type objEntry struct {
	next uint32
	rows []Row
	elem *list.Element
}

// Pager owns the database file: fixed 4096-byte pages, monotone allocation,
// a buffer cache of raw pages and an object cache of decoded rows. Both
// tiers share one recency list but evict independently against their own
// budgets. A worker owns its pager exclusively, so no locking here.
type Pager struct {
	file      *os.File
	path      string
	pageCount int

	wal PageLogger
	log *zap.Logger

	bufCap int
	objCap int
	buf    map[uint32]*bufEntry
	objs   map[uint32]*objEntry
	lru    *list.List // front = most recent; values are page ids

	closed bool
}

type PagerOptions struct {
	BufferPages int
	ObjectPages int
	WAL         PageLogger
	Logger      *zap.Logger
}

// OpenPager opens or creates the database file. A fresh file gets page 0
// initialized empty and stamped; an existing file has its stamp checked.
func OpenPager(path string, opts PagerOptions) (*Pager, error) {
	if opts.BufferPages <= 0 {
		opts.BufferPages = DefaultBufferPages
	}
	if opts.ObjectPages <= 0 {
		opts.ObjectPages = DefaultObjectPages
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open database file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("storage: stat database file: %w", err)
	}
	if info.Size()%PageSize != 0 {
		file.Close()
		return nil, fmt.Errorf("%w: file size %d is not page aligned", ErrStorageFault, info.Size())
	}

	p := &Pager{
		file:      file,
		path:      path,
		pageCount: int(info.Size()) / PageSize,
		wal:       opts.WAL,
		log:       opts.Logger,
		bufCap:    opts.BufferPages,
		objCap:    opts.ObjectPages,
		buf:       make(map[uint32]*bufEntry),
		objs:      make(map[uint32]*objEntry),
		lru:       list.New(),
	}

	if p.pageCount == 0 {
		buf := make([]byte, PageSize)
		page, _ := NewPage(buf, 0)
		page.InitEmpty()
		page.Stamp()
		if err := p.writeAt(0, buf); err != nil {
			file.Close()
			return nil, err
		}
		p.pageCount = 1
	} else {
		head, err := p.readAt(0)
		if err != nil {
			file.Close()
			return nil, err
		}
		page, _ := NewPage(head, 0)
		if err := page.CheckStamp(); err != nil {
			file.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *Pager) Path() string   { return p.path }
func (p *Pager) PageCount() int { return p.pageCount }

// SetWAL attaches the page logger; used when the WAL is opened after the
// pager (recovery runs against the raw file first).
func (p *Pager) SetWAL(w PageLogger) { p.wal = w }

func (p *Pager) readAt(id uint32) ([]byte, error) {
	buf := make([]byte, PageSize)
	if _, err := p.file.ReadAt(buf, int64(id)*PageSize); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: short read of page %d", ErrStorageFault, id)
		}
		return nil, fmt.Errorf("%w: read page %d: %v", ErrStorageFault, id, err)
	}
	return buf, nil
}

func (p *Pager) writeAt(id uint32, data []byte) error {
	if _, err := p.file.WriteAt(data, int64(id)*PageSize); err != nil {
		return fmt.Errorf("%w: write page %d: %v", ErrStorageFault, id, err)
	}
	return nil
}

func (p *Pager) checkID(id uint32) error {
	if p.closed {
		return ErrClosed
	}
	if int(id) >= p.pageCount {
		return fmt.Errorf("%w: page %d out of range (have %d)", ErrStorageFault, id, p.pageCount)
	}
	return nil
}

// touch moves id to the recency front, creating the element if needed.
func (p *Pager) touch(id uint32) *list.Element {
	if be, ok := p.buf[id]; ok && be.elem != nil {
		p.lru.MoveToFront(be.elem)
		return be.elem
	}
	if oe, ok := p.objs[id]; ok && oe.elem != nil {
		p.lru.MoveToFront(oe.elem)
		return oe.elem
	}
	return p.lru.PushFront(id)
}

// evictTier walks from the least-recent end, evicting entries of one tier
// until it fits its budget. The shared element is dropped once neither tier
// holds the page.
func (p *Pager) evictTier(obj bool) {
	size := func() int {
		if obj {
			return len(p.objs)
		}
		return len(p.buf)
	}
	capacity := p.bufCap
	if obj {
		capacity = p.objCap
	}
	for e := p.lru.Back(); e != nil && size() > capacity; {
		prev := e.Prev()
		id := e.Value.(uint32)
		if obj {
			delete(p.objs, id)
		} else {
			delete(p.buf, id)
		}
		if _, inBuf := p.buf[id]; !inBuf {
			if _, inObj := p.objs[id]; !inObj {
				p.lru.Remove(e)
			}
		}
		e = prev
	}
}

// ReadPage returns the 4096-byte buffer for id. The returned slice is the
// cached buffer; callers treat it as read-only and mutate via WritePage.
func (p *Pager) ReadPage(id uint32) ([]byte, error) {
	if err := p.checkID(id); err != nil {
		return nil, err
	}
	if be, ok := p.buf[id]; ok {
		p.touch(id)
		return be.data, nil
	}
	data, err := p.readAt(id)
	if err != nil {
		return nil, err
	}
	elem := p.touch(id)
	p.buf[id] = &bufEntry{data: data, elem: elem}
	p.evictTier(false)
	return data, nil
}

// ReadPageObjects returns the next-page pointer and the decoded rows of id
// from the object cache, decoding lazily on first access. Rows are shared
// with the cache; executors copy before mutating.
func (p *Pager) ReadPageObjects(id uint32) (uint32, []Row, error) {
	if err := p.checkID(id); err != nil {
		return 0, nil, err
	}
	if oe, ok := p.objs[id]; ok {
		p.touch(id)
		return oe.next, oe.rows, nil
	}
	data, err := p.ReadPage(id)
	if err != nil {
		return 0, nil, err
	}
	page, err := NewPage(data, id)
	if err != nil {
		return 0, nil, err
	}
	rows, err := page.Records()
	if err != nil {
		return 0, nil, err
	}
	elem := p.touch(id)
	p.objs[id] = &objEntry{next: page.Next(), rows: rows, elem: elem}
	p.evictTier(true)
	return page.Next(), rows, nil
}

// WritePage logs the page image to the WAL (append + flush), writes it to
// the file, refreshes the buffer cache and invalidates the object cache.
func (p *Pager) WritePage(id uint32, data []byte) error {
	if err := p.checkID(id); err != nil {
		return err
	}
	if len(data) != PageSize {
		return fmt.Errorf("%w: page buffer is %d bytes", ErrStorageFault, len(data))
	}
	if p.wal != nil {
		if _, err := p.wal.AppendPageImage(id, data); err != nil {
			return err
		}
		if err := p.wal.Flush(); err != nil {
			return err
		}
	}
	if err := p.writeAt(id, data); err != nil {
		return err
	}
	elem := p.touch(id)
	if be, ok := p.buf[id]; ok {
		if &be.data[0] != &data[0] {
			copy(be.data, data)
		}
	} else {
		cp := make([]byte, PageSize)
		copy(cp, data)
		p.buf[id] = &bufEntry{data: cp, elem: elem}
		p.evictTier(false)
	}
	// stale row arrays must never be served after a write
	delete(p.objs, id)
	return nil
}

// AllocPage extends the file by one zeroed page and returns its id. New
// pages carry the empty header {next: 0, count: 0, free: 8}.
func (p *Pager) AllocPage() (uint32, error) {
	if p.closed {
		return 0, ErrClosed
	}
	id := uint32(p.pageCount)
	buf := make([]byte, PageSize)
	page, _ := NewPage(buf, id)
	page.InitEmpty()
	if _, err := p.file.WriteAt(buf, int64(id)*PageSize); err != nil {
		return 0, fmt.Errorf("%w: allocate page %d: %v", ErrOutOfSpace, id, err)
	}
	p.pageCount++
	elem := p.touch(id)
	p.buf[id] = &bufEntry{data: buf, elem: elem}
	p.evictTier(false)
	return id, nil
}

// Flush forces the data file and the WAL to durable storage.
func (p *Pager) Flush() error {
	if p.closed {
		return ErrClosed
	}
	if p.wal != nil {
		if err := p.wal.Flush(); err != nil {
			return err
		}
	}
	if err := p.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrStorageFault, err)
	}
	return nil
}

func (p *Pager) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.file.Sync(); err != nil {
		p.log.Warn("pager close sync failed", zap.String("path", p.path), zap.Error(err))
	}
	return p.file.Close()
}
