package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

const (
	PageSize   = 4096
	HeaderSize = 8

	// Page 0 reserves a trailer for the file stamp; records on page 0 must
	// stay below TrailerOffset.
	TrailerSize   = 8
	TrailerOffset = PageSize - TrailerSize

	offNext  = 0 // next page id, u32 LE
	offCount = 4 // record count, u16 LE
	offFree  = 6 // free offset, u16 LE

	// File stamp written into page 0's trailer.
	FileMagic   uint32 = 0x54495753 // "SWIT"
	FileVersion uint16 = 1
)

// Row is a decoded record payload: a JSON object with string keys.
type Row = map[string]any

// Page is a fixed 4096-byte block:
//
//	+--------------------------+ 0
//	| next(u32) count(u16)     |
//	| free(u16)                |
//	+--------------------------+ 8
//	| len(u16) || JSON payload |
//	| ...                      | <-- free offset
//	+--------------------------+
//	| free space               |
//	+--------------------------+ 4096 (page 0: 4088, trailer above)
//
// All header fields are little-endian.
type Page struct {
	Buf []byte

	// capacity is PageSize for ordinary pages, TrailerOffset for page 0.
	capacity int
}

// NewPage wraps buf as a page. Page 0 keeps its trailer area out of the
// record space.
func NewPage(buf []byte, pageID uint32) (*Page, error) {
	if len(buf) != PageSize {
		return nil, fmt.Errorf("%w: page buffer is %d bytes", ErrStorageFault, len(buf))
	}
	capacity := PageSize
	if pageID == 0 {
		capacity = TrailerOffset
	}
	return &Page{Buf: buf, capacity: capacity}, nil
}

// InitEmpty resets the page to an empty record area.
func (p *Page) InitEmpty() {
	for i := range p.Buf {
		p.Buf[i] = 0
	}
	p.SetNext(0)
	p.SetCount(0)
	p.SetFree(HeaderSize)
}

func (p *Page) Next() uint32     { return binary.LittleEndian.Uint32(p.Buf[offNext:]) }
func (p *Page) SetNext(v uint32) { binary.LittleEndian.PutUint32(p.Buf[offNext:], v) }

func (p *Page) Count() int      { return int(binary.LittleEndian.Uint16(p.Buf[offCount:])) }
func (p *Page) SetCount(v int)  { binary.LittleEndian.PutUint16(p.Buf[offCount:], uint16(v)) }
func (p *Page) Free() int       { return int(binary.LittleEndian.Uint16(p.Buf[offFree:])) }
func (p *Page) SetFree(v int)   { binary.LittleEndian.PutUint16(p.Buf[offFree:], uint16(v)) }
func (p *Page) FreeSpace() int  { return p.capacity - p.Free() }
func (p *Page) Capacity() int   { return p.capacity }
func (p *Page) normalized() bool { return p.Free() >= HeaderSize && p.Free() <= p.capacity }

// MaxRecordSize is the largest payload an empty page can hold.
func (p *Page) MaxRecordSize() int { return p.capacity - HeaderSize - 2 }

// AppendRecord writes payload as a len||payload tuple at the free offset.
// Returns ErrPageFull when the tuple would not fit.
func (p *Page) AppendRecord(payload []byte) error {
	if len(payload) > p.MaxRecordSize() {
		return fmt.Errorf("%w: record %d bytes exceeds page capacity", ErrPageFull, len(payload))
	}
	if !p.normalized() {
		return fmt.Errorf("%w: free offset %d", ErrStorageFault, p.Free())
	}
	if 2+len(payload) > p.FreeSpace() {
		return ErrPageFull
	}
	off := p.Free()
	binary.LittleEndian.PutUint16(p.Buf[off:], uint16(len(payload)))
	copy(p.Buf[off+2:], payload)
	p.SetFree(off + 2 + len(payload))
	p.SetCount(p.Count() + 1)
	return nil
}

// recordOffsets returns the byte offset of every record's length prefix.
func (p *Page) recordOffsets() ([]int, error) {
	if !p.normalized() {
		return nil, fmt.Errorf("%w: free offset %d", ErrStorageFault, p.Free())
	}
	offs := make([]int, 0, p.Count())
	off := HeaderSize
	for off < p.Free() {
		if off+2 > p.Free() {
			return nil, ErrBadRecord
		}
		n := int(binary.LittleEndian.Uint16(p.Buf[off:]))
		if off+2+n > p.Free() {
			return nil, ErrBadRecord
		}
		offs = append(offs, off)
		off += 2 + n
	}
	if len(offs) != p.Count() {
		return nil, fmt.Errorf("%w: count %d, found %d records", ErrBadRecord, p.Count(), len(offs))
	}
	return offs, nil
}

// RecordBytes returns the raw payload slices of every record. The slices
// alias the page buffer.
func (p *Page) RecordBytes() ([][]byte, error) {
	offs, err := p.recordOffsets()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(offs))
	for i, off := range offs {
		n := int(binary.LittleEndian.Uint16(p.Buf[off:]))
		out[i] = p.Buf[off+2 : off+2+n]
	}
	return out, nil
}

// Records decodes every record payload as a JSON row.
func (p *Page) Records() ([]Row, error) {
	raw, err := p.RecordBytes()
	if err != nil {
		return nil, err
	}
	rows := make([]Row, len(raw))
	for i, b := range raw {
		var row Row
		if err := json.Unmarshal(b, &row); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrBadRecord, i, err)
		}
		rows[i] = row
	}
	return rows, nil
}

// DeleteRecordAt removes record i and compacts the tail down so the record
// area stays a dense run of len||payload tuples.
func (p *Page) DeleteRecordAt(i int) error {
	offs, err := p.recordOffsets()
	if err != nil {
		return err
	}
	if i < 0 || i >= len(offs) {
		return fmt.Errorf("%w: record index %d of %d", ErrBadRecord, i, len(offs))
	}
	off := offs[i]
	n := int(binary.LittleEndian.Uint16(p.Buf[off:]))
	end := off + 2 + n
	copy(p.Buf[off:], p.Buf[end:p.Free()])
	newFree := p.Free() - (2 + n)
	// zero the vacated tail
	for j := newFree; j < p.Free(); j++ {
		p.Buf[j] = 0
	}
	p.SetFree(newFree)
	p.SetCount(p.Count() - 1)
	return nil
}

// RewriteRecordAt replaces record i with payload. Returns (false, nil) when
// the new payload does not fit even after reclaiming the old record's bytes;
// the caller then relocates the record to another page.
func (p *Page) RewriteRecordAt(i int, payload []byte) (bool, error) {
	offs, err := p.recordOffsets()
	if err != nil {
		return false, err
	}
	if i < 0 || i >= len(offs) {
		return false, fmt.Errorf("%w: record index %d of %d", ErrBadRecord, i, len(offs))
	}
	off := offs[i]
	oldLen := int(binary.LittleEndian.Uint16(p.Buf[off:]))
	grow := len(payload) - oldLen
	if grow > p.FreeSpace() {
		return false, nil
	}
	end := off + 2 + oldLen
	tail := make([]byte, p.Free()-end)
	copy(tail, p.Buf[end:p.Free()])

	binary.LittleEndian.PutUint16(p.Buf[off:], uint16(len(payload)))
	copy(p.Buf[off+2:], payload)
	copy(p.Buf[off+2+len(payload):], tail)

	newFree := p.Free() + grow
	for j := newFree; j < p.Free(); j++ {
		p.Buf[j] = 0
	}
	p.SetFree(newFree)
	return true, nil
}

// Stamp writes the file magic and version into page 0's trailer.
func (p *Page) Stamp() {
	binary.LittleEndian.PutUint32(p.Buf[TrailerOffset:], FileMagic)
	binary.LittleEndian.PutUint16(p.Buf[TrailerOffset+4:], FileVersion)
}

// CheckStamp validates page 0's trailer. An all-zero trailer is accepted for
// files created before stamping.
func (p *Page) CheckStamp() error {
	magic := binary.LittleEndian.Uint32(p.Buf[TrailerOffset:])
	if magic == 0 {
		return nil
	}
	if magic != FileMagic {
		return fmt.Errorf("%w: bad file magic %#x", ErrStorageFault, magic)
	}
	ver := binary.LittleEndian.Uint16(p.Buf[TrailerOffset+4:])
	if ver != FileVersion {
		return fmt.Errorf("%w: unsupported file version %d", ErrStorageFault, ver)
	}
	return nil
}

// EncodeRow marshals a row for storage.
func EncodeRow(row Row) ([]byte, error) {
	b, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("storage: encode row: %w", err)
	}
	return b, nil
}
