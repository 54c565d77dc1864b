// Package vmtrace is an optional eviction/swap-in trace recorder,
// attached to a vmswap.Store to log every Out/In as a CRC32-framed
// binary record. Grounded directly on internal/wal.Manager's append-only,
// checksummed record format, simplified because a swap event carries no
// variable-length fields (no dir/base strings to pack), so every record
// is fixed size.
package vmtrace

import (
	"errors"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/pintos-group-black-premium-car/pintos/internal/alias/bx"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
)

var (
	ErrBadMagic = errors.New("vmtrace: bad magic")
	ErrBadCRC   = errors.New("vmtrace: bad crc")
)

const (
	magicU32   uint32 = 0x56544243 // "VTBC"
	versionU16 uint16 = 1

	eventSwapOut uint8 = 1
	eventSwapIn  uint8 = 2

	// magic(4) ver(2) event(1) rsv(1) totalLen(4) crc(4) seq(8) slot(8) kpage(8)
	recordSize = 4 + 2 + 1 + 1 + 4 + 4 + 8 + 8 + 8
)

// Recorder appends one record per swap event to a log file. A nil
// *Recorder is valid and every method on it is a no-op, so callers can
// wire it in unconditionally and only Open one when tracing is wanted.
type Recorder struct {
	mu  sync.Mutex
	f   *os.File
	seq uint64
}

// Open creates (or appends to) dir/vmtrace.log.
func Open(dir string) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "vmtrace.log")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("vmtrace: open: %w", err)
	}
	return &Recorder{f: f}, nil
}

func (r *Recorder) Close() error {
	if r == nil || r.f == nil {
		return nil
	}
	return r.f.Close()
}

// RecordSwapOut implements vmswap.Recorder.
func (r *Recorder) RecordSwapOut(slot int, kpage vmhw.KPage) error {
	return r.append(eventSwapOut, slot, kpage)
}

// RecordSwapIn implements vmswap.Recorder.
func (r *Recorder) RecordSwapIn(slot int, kpage vmhw.KPage) error {
	return r.append(eventSwapIn, slot, kpage)
}

func (r *Recorder) append(event uint8, slot int, kpage vmhw.KPage) error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}

	r.seq++

	buf := make([]byte, recordSize)
	off := 0

	bx.PutU32(buf[off:off+4], magicU32)
	off += 4
	bx.PutU16(buf[off:off+2], versionU16)
	off += 2
	buf[off] = event
	off++
	buf[off] = 0
	off++
	bx.PutU32(buf[off:off+4], uint32(recordSize))
	off += 4

	crcOff := off
	bx.PutU32(buf[off:off+4], 0) // placeholder
	off += 4

	bx.PutU64(buf[off:off+8], r.seq)
	off += 8
	bx.PutU64(buf[off:off+8], uint64(slot))
	off += 8
	bx.PutU64(buf[off:off+8], uint64(kpage))
	off += 8

	crc := crc32.ChecksumIEEE(buf[crcOff+4:])
	bx.PutU32(buf[crcOff:crcOff+4], crc)

	_, err := r.f.Write(buf)
	return err
}

// Record is one decoded trace entry, returned by ReadAll for tests and
// offline inspection.
type Record struct {
	Seq   uint64
	Event uint8
	Slot  int
	KPage vmhw.KPage
}

// ReadAll parses every record out of buf, validating magic and CRC.
func ReadAll(buf []byte) ([]Record, error) {
	var out []Record
	for len(buf) > 0 {
		if len(buf) < recordSize {
			return nil, fmt.Errorf("vmtrace: truncated record (%d bytes left)", len(buf))
		}
		rec := buf[:recordSize]
		if bx.U32(rec[0:4]) != magicU32 {
			return nil, ErrBadMagic
		}
		event := rec[6]
		crcOff := 12
		wantCRC := bx.U32(rec[crcOff : crcOff+4])
		gotCRC := crc32.ChecksumIEEE(rec[crcOff+4:])
		if wantCRC != gotCRC {
			return nil, ErrBadCRC
		}
		seq := bx.U64(rec[16:24])
		slot := bx.U64(rec[24:32])
		kpage := bx.U64(rec[32:40])

		out = append(out, Record{Seq: seq, Event: event, Slot: int(slot), KPage: vmhw.KPage(kpage)})
		buf = buf[recordSize:]
	}
	return out, nil
}
