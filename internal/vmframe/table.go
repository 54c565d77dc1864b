// Package vmframe implements the process-wide frame table: the global
// registry of resident user frames, its clock (second-chance) eviction
// policy, and pinning. It plays the role bufferpool.GlobalPool plays for
// database pages, generalized from PageTag-scoped keys to a single
// KPage key, since a user frame is unique process-wide rather than
// scoped to one relation.
package vmframe

import (
	"fmt"
	"log/slog"
	"sync"

	locking "github.com/pintos-group-black-premium-car/pintos/internal/lock"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
	"github.com/pintos-group-black-premium-car/pintos/pkg/clockx"
)

// Owner is the address space that owns a frame-table entry. The frame
// table only calls back into it while evicting, under its own lock, to
// reach the hardware page directory and to hand the victim off to the
// owner's supplemental page table.
type Owner interface {
	// PageDirectory returns the owner's hardware page directory.
	PageDirectory() vmhw.PageDirectory
	// EvictNotify runs after the frame table has cleared the hardware
	// mapping for upage, observed its dirtiness, and written its frame to
	// swap slot swapIndex. The owner must transition its SPT entry for
	// upage to ON_SWAP, OR-ing dirty into the entry's own dirty bit.
	EvictNotify(upage vmhw.UPage, swapIndex int, dirty bool)
}

// Swapper is the narrow slice of the swap store the frame table needs
// during eviction write-back.
type Swapper interface {
	Out(kpage vmhw.KPage) (slot int, err error)
}

// entry is one resident user frame.
type entry struct {
	kpage vmhw.KPage
	upage vmhw.UPage
	owner Owner
	pin   *locking.RefCount
}

// Table is the frame table of spec §4.2: a fixed-capacity set of frames,
// a hash from kpage to slot, and a clock ring that sweeps the slots in
// slot-index order (a new frame takes the lowest free slot, not a place
// at the end of an insertion-ordered list). One mutex serialises every
// mutation, the frame-table lock of spec §5.
type Table struct {
	mu sync.Mutex

	alloc vmhw.PhysAllocator
	swap  Swapper

	entries []*entry
	byKPage map[vmhw.KPage]int
	ring    *clockx.Ring
}

// NewTable creates a frame table bounded at capacity resident frames.
func NewTable(capacity int, alloc vmhw.PhysAllocator, swap Swapper) *Table {
	if capacity <= 0 {
		capacity = 1
	}
	return &Table{
		alloc:   alloc,
		swap:    swap,
		entries: make([]*entry, capacity),
		byKPage: make(map[vmhw.KPage]int),
		ring:    clockx.NewRing(capacity),
	}
}

// Capacity returns the number of frames the table was sized for.
func (t *Table) Capacity() int { return len(t.entries) }

// Size returns the number of frames currently resident.
func (t *Table) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ring.Size()
}

func (t *Table) freeIndexLocked() int {
	for i, e := range t.entries {
		if e == nil {
			return i
		}
	}
	return -1
}

// Alloc obtains a fresh user frame for upage, owned by owner, and
// returns its kpage. It tries the physical allocator first; on
// exhaustion it evicts one victim via the clock algorithm and retries,
// which must then succeed. The new entry is born pinned, per spec §4.2's
// policy note, so an in-progress resolver cannot itself be evicted by a
// concurrent fault.
func (t *Table) Alloc(flags vmhw.AllocFlags, upage vmhw.UPage, owner Owner) (vmhw.KPage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kpage, ok := t.alloc.GetPage(flags)
	if !ok {
		slog.Debug("vmframe: allocator exhausted, evicting", "upage", upage)
		if err := t.evictLocked(); err != nil {
			return 0, err
		}
		kpage, ok = t.alloc.GetPage(flags)
		if !ok {
			return 0, fmt.Errorf("%w: physical allocator still exhausted after eviction", ErrAllocFailed)
		}
	}

	idx := t.freeIndexLocked()
	if idx < 0 {
		// The physical allocator had a frame but the table has no slot
		// for it: capacity and the allocator's own pool disagree. Give
		// the frame back rather than leak it.
		t.alloc.FreePage(kpage)
		return 0, fmt.Errorf("%w: no free frame-table slot", ErrAllocFailed)
	}

	t.entries[idx] = &entry{kpage: kpage, upage: upage, owner: owner, pin: locking.NewRefCount()}
	t.byKPage[kpage] = idx
	t.ring.Add(idx)

	slog.Debug("vmframe: alloc", "kpage", kpage, "upage", upage, "idx", idx)
	return kpage, nil
}

// Free removes the entry for kpage and returns the physical frame to
// the allocator.
func (t *Table) Free(kpage vmhw.KPage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.byKPage[kpage]
	if !ok {
		return fmt.Errorf("%w: free %s", ErrUnknownFrame, kpage)
	}

	t.ring.Remove(idx)
	delete(t.byKPage, kpage)
	t.entries[idx] = nil
	t.alloc.FreePage(kpage)

	slog.Debug("vmframe: free", "kpage", kpage, "idx", idx)
	return nil
}

// RemoveEntry removes the entry for kpage without returning the
// physical frame to the allocator: the caller has already relinquished
// it, e.g. while walking an SPT during address-space teardown.
func (t *Table) RemoveEntry(kpage vmhw.KPage) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.byKPage[kpage]
	if !ok {
		return fmt.Errorf("%w: remove_entry %s", ErrUnknownFrame, kpage)
	}

	t.ring.Remove(idx)
	delete(t.byKPage, kpage)
	t.entries[idx] = nil
	return nil
}

// Pin marks kpage ineligible for eviction. Pinning an unknown frame is a
// bookkeeping bug and panics, per the error taxonomy's "Bookkeeping bug"
// kind.
func (t *Table) Pin(kpage vmhw.KPage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.byKPage[kpage]
	if !ok {
		panic(fmt.Errorf("%w: pin %s", ErrUnknownFrame, kpage))
	}
	t.entries[idx].pin.Inc()
}

// Unpin clears a previous Pin. Unpinning an unknown frame panics for the
// same reason Pin does; unpinning past zero panics inside RefCount.Dec.
func (t *Table) Unpin(kpage vmhw.KPage) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx, ok := t.byKPage[kpage]
	if !ok {
		panic(fmt.Errorf("%w: unpin %s", ErrUnknownFrame, kpage))
	}
	t.entries[idx].pin.Dec()
}

// evictLocked runs the clock sweep of spec §4.2 and evicts the chosen
// victim. Callers must hold t.mu.
func (t *Table) evictLocked() error {
	victimIdx, ok := t.ring.Sweep(func(id int) bool {
		e := t.entries[id]
		if e == nil || e.pin.Get() > 0 {
			return false
		}
		pd := e.owner.PageDirectory()
		if pd.IsAccessed(e.upage) {
			pd.SetAccessed(e.upage, false)
			return false
		}
		return true
	})
	if !ok {
		return fmt.Errorf("%w", ErrOutOfMemory)
	}
	return t.evictEntryLocked(victimIdx)
}

// evictEntryLocked runs the eviction write-back sequence of spec §4.2
// steps 1-5 for the entry at idx. Callers must hold t.mu.
func (t *Table) evictEntryLocked(idx int) error {
	e := t.entries[idx]
	pd := e.owner.PageDirectory()

	pd.ClearPage(e.upage)
	dirty := pd.IsDirty(uintptr(e.upage)) || pd.IsDirty(uintptr(e.kpage))

	slot, err := t.swap.Out(e.kpage)
	if err != nil {
		return fmt.Errorf("vmframe: evict %s: %w", e.kpage, err)
	}

	e.owner.EvictNotify(e.upage, slot, dirty)
	t.alloc.FreePage(e.kpage)

	delete(t.byKPage, e.kpage)
	t.entries[idx] = nil

	slog.Debug("vmframe: evicted", "kpage", e.kpage, "upage", e.upage, "slot", slot, "dirty", dirty)
	return nil
}
