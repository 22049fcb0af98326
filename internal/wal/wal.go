// Package wal implements the write-ahead log: an append-only file of
// length-prefixed, crc-checked records parallel to the main database file.
// Page images are logged before they reach the main file; a commit marker
// seals each statement. Recovery replays committed images and truncates.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"go.uber.org/zap"
)

var (
	ErrBadMagic  = errors.New("wal: bad magic")
	ErrBadCRC    = errors.New("wal: bad crc")
	ErrBadRecord = errors.New("wal: bad record")
	ErrShortRead = errors.New("wal: short read")
	ErrClosed    = errors.New("wal: log is closed")
)

const (
	magicU32   uint32 = 0x4C415753 // "SWAL"
	versionU16 uint16 = 1

	recPageImage uint8 = 1
	recCommit    uint8 = 2

	// magic(4) ver(2) typ(1) rsv(1) totalLen(4) crc(4) lsn(8) pageID(4)
	fixedHeader = 4 + 2 + 1 + 1 + 4 + 4 + 8 + 4

	// PageSize mirrors the storage page size without importing storage.
	PageSize = 4096
)

// SyncMode controls when appends reach durable storage.
type SyncMode string

const (
	SyncAlways SyncMode = "always" // fsync on every append
	SyncCommit SyncMode = "commit" // fsync on commit markers and Flush
	SyncNever  SyncMode = "never"  // fsync only on explicit Flush
)

// Record is one decoded WAL entry.
type Record struct {
	LSN    uint64
	Commit bool
	PageID uint32
	Page   []byte
}

// Log is the append-only write-ahead log for one database file.
type Log struct {
	f        *os.File
	path     string
	lsn      uint64
	syncMode SyncMode
	log      *zap.Logger
	closed   bool
}

type Options struct {
	SyncMode SyncMode
	Logger   *zap.Logger
}

// Open opens or creates the log at path and seeds the next LSN from the
// existing tail.
func Open(path string, opts Options) (*Log, error) {
	if opts.SyncMode == "" {
		opts.SyncMode = SyncCommit
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}
	l := &Log{f: f, path: path, syncMode: opts.SyncMode, log: opts.Logger}
	if err := l.initLastLSN(); err != nil {
		l.log.Warn("wal: scanning existing log failed, starting from tail",
			zap.String("path", path), zap.Error(err))
	}
	return l, nil
}

func (l *Log) Path() string { return l.path }

// AppendPageImage logs a full page image and returns its LSN.
func (l *Log) AppendPageImage(pageID uint32, page []byte) (uint64, error) {
	if len(page) != PageSize {
		return 0, fmt.Errorf("%w: page image is %d bytes", ErrBadRecord, len(page))
	}
	return l.append(recPageImage, pageID, page)
}

// Commit appends a commit marker sealing every record logged before it, and
// forces the log to durable storage (unless sync mode is never).
func (l *Log) Commit() (uint64, error) {
	lsn, err := l.append(recCommit, 0, nil)
	if err != nil {
		return 0, err
	}
	if l.syncMode != SyncNever {
		if err := l.sync(); err != nil {
			return 0, err
		}
	}
	return lsn, nil
}

func (l *Log) append(typ uint8, pageID uint32, payload []byte) (uint64, error) {
	if l.closed {
		return 0, ErrClosed
	}
	l.lsn++
	lsn := l.lsn

	totalLen := fixedHeader + len(payload)
	buf := make([]byte, totalLen)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], magicU32)
	off += 4
	binary.LittleEndian.PutUint16(buf[off:], versionU16)
	off += 2
	buf[off] = typ
	off++
	buf[off] = 0
	off++
	binary.LittleEndian.PutUint32(buf[off:], uint32(totalLen))
	off += 4
	crcOff := off
	off += 4 // crc placeholder
	binary.LittleEndian.PutUint64(buf[off:], lsn)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], pageID)
	off += 4
	copy(buf[off:], payload)

	crc := crc32.ChecksumIEEE(buf[crcOff+4:])
	binary.LittleEndian.PutUint32(buf[crcOff:], crc)

	if _, err := l.f.Write(buf); err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	if l.syncMode == SyncAlways {
		if err := l.sync(); err != nil {
			return 0, err
		}
	}
	return lsn, nil
}

func (l *Log) sync() error {
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	return nil
}

// Flush forces everything appended so far to durable storage.
func (l *Log) Flush() error {
	if l.closed {
		return ErrClosed
	}
	return l.sync()
}

// Checkpoint truncates the log; callers flush data pages first.
func (l *Log) Checkpoint() error {
	if l.closed {
		return ErrClosed
	}
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("wal: checkpoint: %w", err)
	}
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: checkpoint: %w", err)
	}
	return l.sync()
}

func (l *Log) Close() error {
	if l == nil || l.closed {
		return nil
	}
	l.closed = true
	return l.f.Close()
}

// Replay applies every committed page image, in log order, through apply.
// Records past the last commit marker are discarded; a torn tail record
// terminates the scan as not-committed. Corruption before the tail is a
// hard error. Replaying an already-applied log is idempotent.
func Replay(path string, apply func(pageID uint32, page []byte) error) error {
	records, err := scan(path)
	if err != nil {
		return err
	}
	var lastCommit uint64
	for _, rec := range records {
		if rec.Commit {
			lastCommit = rec.LSN
		}
	}
	for _, rec := range records {
		if rec.Commit || rec.LSN > lastCommit {
			continue
		}
		if err := apply(rec.PageID, rec.Page); err != nil {
			return err
		}
	}
	return nil
}

// scan reads records up to the first torn frame. io errors and mid-file
// corruption surface as errors; a clean or torn tail ends the scan.
func scan(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("wal: open for replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)
	var out []Record
	for {
		rec, err := readOne(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			if errors.Is(err, ErrBadCRC) {
				// a bad crc is a torn tail only when nothing follows the frame
				if _, perr := r.Peek(1); perr == nil {
					return nil, err
				}
				return out, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, ErrShortRead) {
				// torn tail: everything from here on is not committed
				return out, nil
			}
			return nil, err
		}
		out = append(out, *rec)
	}
}

func readOne(r *bufio.Reader) (*Record, error) {
	var hdr [fixedHeader]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint32(hdr[0:]) != magicU32 {
		return nil, ErrBadMagic
	}
	if binary.LittleEndian.Uint16(hdr[4:]) != versionU16 {
		return nil, ErrBadRecord
	}
	typ := hdr[6]
	totalLen := binary.LittleEndian.Uint32(hdr[8:])
	wantCRC := binary.LittleEndian.Uint32(hdr[12:])
	if totalLen < fixedHeader || totalLen > fixedHeader+PageSize {
		return nil, ErrBadRecord
	}

	payload := make([]byte, int(totalLen)-fixedHeader)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrShortRead
		}
		return nil, err
	}

	crc := crc32.NewIEEE()
	crc.Write(hdr[16:])
	crc.Write(payload)
	if crc.Sum32() != wantCRC {
		return nil, ErrBadCRC
	}

	rec := &Record{
		LSN:    binary.LittleEndian.Uint64(hdr[16:]),
		PageID: binary.LittleEndian.Uint32(hdr[24:]),
	}
	switch typ {
	case recPageImage:
		if len(payload) != PageSize {
			return nil, ErrBadRecord
		}
		rec.Page = payload
	case recCommit:
		rec.Commit = true
	default:
		return nil, ErrBadRecord
	}
	return rec, nil
}

func (l *Log) initLastLSN() error {
	records, err := scan(l.path)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if rec.LSN > l.lsn {
			l.lsn = rec.LSN
		}
	}
	return nil
}
