// Package vmswap implements the swap store of spec §4.1: fixed-size,
// page-sized slots over a block device, tracked by a bitmap. It
// generalizes internal/storage.Pager's seek-and-read-full idiom from
// page-number-within-one-file addressing to slot-within-one-unsegmented-
// device addressing, since a swap device, unlike a relation's file set,
// is never split across segments.
package vmswap

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
)

// Recorder optionally traces swap activity, the way wal.Manager traces
// page writes. A nil Recorder disables tracing entirely.
type Recorder interface {
	RecordSwapOut(slot int, kpage vmhw.KPage) error
	RecordSwapIn(slot int, kpage vmhw.KPage) error
}

// Store is bound to one block device for its entire lifetime.
type Store struct {
	mu sync.Mutex

	dev  vmhw.BlockDevice
	mem  vmhw.FrameMemory
	trace Recorder

	sectorsPerPage int
	slotCount      int64
	bitmap         []uint64 // 1 bit per slot; set == occupied
}

// New binds a swap store to dev, dividing it into PageSize slots. It
// fails hard (returns an error at construction, the Go idiom for "fails
// hard if the swap device is absent") if dev's geometry cannot host a
// whole number of page-sized slots.
func New(dev vmhw.BlockDevice, mem vmhw.FrameMemory, trace Recorder) (*Store, error) {
	sectorSize := dev.SectorSize()
	if sectorSize <= 0 || vmhw.PageSize%sectorSize != 0 {
		return nil, fmt.Errorf("vmswap: sector size %d does not evenly divide page size %d", sectorSize, vmhw.PageSize)
	}

	spp := vmhw.PageSize / sectorSize
	slotCount := dev.SizeInSectors() / int64(spp)
	if slotCount <= 0 {
		return nil, fmt.Errorf("vmswap: swap device too small to hold a single slot")
	}

	words := (slotCount + 63) / 64
	return &Store{
		dev:            dev,
		mem:            mem,
		trace:          trace,
		sectorsPerPage: spp,
		slotCount:      slotCount,
		bitmap:         make([]uint64, words),
	}, nil
}

// SlotCount returns the total number of slots on the device.
func (s *Store) SlotCount() int64 { return s.slotCount }

func (s *Store) occupiedLocked(slot int64) bool {
	return s.bitmap[slot/64]&(1<<uint(slot%64)) != 0
}

func (s *Store) setOccupiedLocked(slot int64, v bool) {
	word, bit := slot/64, uint(slot%64)
	if v {
		s.bitmap[word] |= 1 << bit
	} else {
		s.bitmap[word] &^= 1 << bit
	}
}

func (s *Store) checkRange(slot int64) error {
	if slot < 0 || slot >= s.slotCount {
		return fmt.Errorf("%w: slot %d", ErrSlotOutOfRange, slot)
	}
	return nil
}

// Out finds the first free slot, writes kpage's PageSize bytes to it, and
// marks it occupied. It panics on exhaustion: spec §4.1 calls this
// "fails hard... panic acceptable: policy", matching the error
// taxonomy's "Resource exhaustion" kind.
func (s *Store) Out(kpage vmhw.KPage) (slot int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := int64(-1)
	for i := int64(0); i < s.slotCount; i++ {
		if !s.occupiedLocked(i) {
			idx = i
			break
		}
	}
	if idx < 0 {
		panic(fmt.Errorf("%w", ErrNoFreeSlot))
	}

	buf := make([]byte, vmhw.PageSize)
	if err := s.mem.ReadFrame(kpage, buf); err != nil {
		return 0, fmt.Errorf("vmswap: out: read frame: %w", err)
	}
	if err := s.writeSlotLocked(idx, buf); err != nil {
		return 0, err
	}

	s.setOccupiedLocked(idx, true)
	slog.Debug("vmswap: out", "slot", idx, "kpage", kpage)

	if s.trace != nil {
		if err := s.trace.RecordSwapOut(int(idx), kpage); err != nil {
			slog.Error("vmswap: trace swap-out failed", "slot", idx, "err", err)
		}
	}
	return int(idx), nil
}

// In requires slot occupied; it reads the slot's contents into kpage and
// marks the slot free. Using In on an unoccupied or out-of-range slot is
// a bookkeeping bug and panics, per the error taxonomy's fatal
// bookkeeping-bug kind.
func (s *Store) In(slot int, kpage vmhw.KPage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := int64(slot)
	if err := s.checkRange(idx); err != nil {
		panic(err)
	}
	if !s.occupiedLocked(idx) {
		panic(fmt.Errorf("%w: slot %d", ErrSlotFree, slot))
	}

	buf := make([]byte, vmhw.PageSize)
	if err := s.readSlotLocked(idx, buf); err != nil {
		return err
	}
	if err := s.mem.WriteFrame(kpage, buf); err != nil {
		return fmt.Errorf("vmswap: in: write frame: %w", err)
	}

	s.setOccupiedLocked(idx, false)
	slog.Debug("vmswap: in", "slot", slot, "kpage", kpage)

	if s.trace != nil {
		if err := s.trace.RecordSwapIn(slot, kpage); err != nil {
			slog.Error("vmswap: trace swap-in failed", "slot", slot, "err", err)
		}
	}
	return nil
}

// Free requires slot occupied; it marks the slot free without reading
// its contents (the caller has no further use for the page image, e.g.
// an mmap unmap that found the page clean). Freeing an unoccupied or
// out-of-range slot panics, the same bookkeeping-bug kind as In.
func (s *Store) Free(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := int64(slot)
	if err := s.checkRange(idx); err != nil {
		panic(err)
	}
	if !s.occupiedLocked(idx) {
		panic(fmt.Errorf("%w: slot %d", ErrSlotFree, slot))
	}
	s.setOccupiedLocked(idx, false)
	slog.Debug("vmswap: free", "slot", slot)
}

func (s *Store) writeSlotLocked(slot int64, buf []byte) error {
	base := slot * int64(s.sectorsPerPage)
	sectorSize := s.dev.SectorSize()
	for i := 0; i < s.sectorsPerPage; i++ {
		sector := buf[i*sectorSize : (i+1)*sectorSize]
		if err := s.dev.WriteSector(base+int64(i), sector); err != nil {
			return fmt.Errorf("vmswap: write sector %d: %w", base+int64(i), err)
		}
	}
	return nil
}

func (s *Store) readSlotLocked(slot int64, buf []byte) error {
	base := slot * int64(s.sectorsPerPage)
	sectorSize := s.dev.SectorSize()
	for i := 0; i < s.sectorsPerPage; i++ {
		sector := buf[i*sectorSize : (i+1)*sectorSize]
		if err := s.dev.ReadSector(base+int64(i), sector); err != nil {
			return fmt.Errorf("vmswap: read sector %d: %w", base+int64(i), err)
		}
	}
	return nil
}
