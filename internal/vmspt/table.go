// Package vmspt implements the supplemental page table of spec §4.3: a
// per-address-space map from a user page to a tagged descriptor of how
// that page is backed. The tagged-variant shape follows
// internal/storage.PageType's enum-plus-struct idiom and
// internal/record.Column's field-tagging style, generalized from an
// on-disk byte layout to a pure in-memory structure (no SPT state
// survives a reboot).
package vmspt

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
)

// Status discriminates how a user page is currently backed.
type Status uint8

const (
	AllZeros Status = iota
	OnFrame
	OnSwap
	FromFilesys
)

func (s Status) String() string {
	switch s {
	case AllZeros:
		return "all_zeros"
	case OnFrame:
		return "on_frame"
	case OnSwap:
		return "on_swap"
	case FromFilesys:
		return "from_filesys"
	default:
		return "unknown"
	}
}

// Entry is one SPT record. Only the fields relevant to Status are
// meaningful; see spec §3 for the per-status invariants.
type Entry struct {
	UPage  vmhw.UPage
	Status Status

	KPage     vmhw.KPage // ON_FRAME
	SwapIndex int        // ON_SWAP

	File       vmhw.File // FROM_FILESYS
	FileOffset int64
	ReadBytes  int
	ZeroBytes  int
	Writable   bool

	Dirty bool
}

// FrameRemover is the slice of vmframe.Table teardown needs: releasing a
// resident frame's entry without returning the physical frame, since the
// OS kernel reclaims it when it tears down the owning page directory.
type FrameRemover interface {
	RemoveEntry(kpage vmhw.KPage) error
}

// SlotFreer is the slice of vmswap.Store teardown needs.
type SlotFreer interface {
	Free(slot int)
}

// Table is one address space's supplemental page table.
type Table struct {
	mu      sync.Mutex
	entries map[vmhw.UPage]*Entry
}

// NewTable creates an empty SPT.
func NewTable() *Table {
	return &Table{entries: make(map[vmhw.UPage]*Entry)}
}

// InstallFrame creates an ON_FRAME entry. It returns false, rather than
// panicking, on a duplicate upage: per spec §4.3 this is the one
// installer whose duplicate case is not a programming error (a racing
// fault may have already installed the frame).
func (t *Table) InstallFrame(upage vmhw.UPage, kpage vmhw.KPage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[upage]; exists {
		return false
	}
	t.entries[upage] = &Entry{UPage: upage, Status: OnFrame, KPage: kpage}
	return true
}

// InstallZeroPage creates an ALL_ZEROS entry. Duplicate install is a
// programming error and panics.
func (t *Table) InstallZeroPage(upage vmhw.UPage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[upage]; exists {
		panic(fmt.Errorf("%w: install_zeropage %s", ErrDuplicateEntry, upage))
	}
	t.entries[upage] = &Entry{UPage: upage, Status: AllZeros}
}

// InstallFilesys creates a FROM_FILESYS entry. Duplicate install is a
// programming error and panics.
func (t *Table) InstallFilesys(upage vmhw.UPage, file vmhw.File, offset int64, readBytes, zeroBytes int, writable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[upage]; exists {
		panic(fmt.Errorf("%w: install_filesys %s", ErrDuplicateEntry, upage))
	}
	t.entries[upage] = &Entry{
		UPage:      upage,
		Status:     FromFilesys,
		File:       file,
		FileOffset: offset,
		ReadBytes:  readBytes,
		ZeroBytes:  zeroBytes,
		Writable:   writable,
	}
}

// SetSwap transitions an existing entry to ON_SWAP, clearing KPage. It
// reports false if upage has no entry.
func (t *Table) SetSwap(upage vmhw.UPage, swapIndex int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[upage]
	if !ok {
		return false
	}
	e.Status = OnSwap
	e.SwapIndex = swapIndex
	e.KPage = 0
	return true
}

// SetFrame transitions an existing entry of any status to ON_FRAME at
// kpage, used by the fault resolver once it has materialized a page. It
// reports false if upage has no entry.
func (t *Table) SetFrame(upage vmhw.UPage, kpage vmhw.KPage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[upage]
	if !ok {
		return false
	}
	e.Status = OnFrame
	e.KPage = kpage
	return true
}

// EvictNotify implements vmframe.Owner's callback: it transitions the
// entry for upage to ON_SWAP at swapIndex, OR-ing dirty into the
// entry's own dirty bit. Missing entry is a bookkeeping bug (the frame
// table's owner pointer and this SPT have diverged) and panics.
func (t *Table) EvictNotify(upage vmhw.UPage, swapIndex int, dirty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[upage]
	if !ok {
		panic(fmt.Errorf("%w: evict notify %s", ErrEntryNotFound, upage))
	}
	e.Status = OnSwap
	e.SwapIndex = swapIndex
	e.KPage = 0
	e.Dirty = e.Dirty || dirty
}

// Find returns a copy of the entry for upage, if any.
func (t *Table) Find(upage vmhw.UPage) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[upage]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// HasEntry reports whether upage has any SPT entry.
func (t *Table) HasEntry(upage vmhw.UPage) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[upage]
	return ok
}

// SetDirty ORs value into the entry's dirty bit. A missing entry is a
// bookkeeping bug and panics.
func (t *Table) SetDirty(upage vmhw.UPage, value bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[upage]
	if !ok {
		panic(fmt.Errorf("%w: set_dirty %s", ErrEntryNotFound, upage))
	}
	e.Dirty = e.Dirty || value
}

// Remove deletes the entry for upage outright, used by munmap once its
// per-page write-back has run.
func (t *Table) Remove(upage vmhw.UPage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, upage)
}

// Destroy tears down every entry: ON_FRAME entries are released via
// frames.RemoveEntry (the physical frame itself is reclaimed later by
// the OS tearing down the page directory); ON_SWAP entries free their
// slot. ALL_ZEROS and FROM_FILESYS entries need no action.
func (t *Table) Destroy(frames FrameRemover, swap SlotFreer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for upage, e := range t.entries {
		switch e.Status {
		case OnFrame:
			if err := frames.RemoveEntry(e.KPage); err != nil {
				slog.Error("vmspt: teardown remove_entry failed", "upage", upage, "err", err)
			}
		case OnSwap:
			swap.Free(e.SwapIndex)
		}
	}
	t.entries = make(map[vmhw.UPage]*Entry)
}
