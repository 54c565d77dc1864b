// Package vmfault implements the page-fault resolution protocol of spec
// §4.4: a single exported entry point that fans out to the frame table,
// the swap store, and the filesystem in a fixed order and translates
// every collaborator failure into the one outcome the syscall layer
// understands, false. Grounded on the orchestration style of
// internal/sql/executor.Executor, which does the same against its own
// fixed set of collaborators.
package vmfault

import (
	"fmt"
	"log/slog"

	"github.com/pintos-group-black-premium-car/pintos/internal/vmframe"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmspt"
)

// Framer is the slice of vmframe.Table the resolver needs.
type Framer interface {
	Alloc(flags vmhw.AllocFlags, upage vmhw.UPage, owner vmframe.Owner) (vmhw.KPage, error)
	Free(kpage vmhw.KPage) error
	Unpin(kpage vmhw.KPage)
}

// Swapper is the slice of vmswap.Store the resolver needs.
type Swapper interface {
	In(slot int, kpage vmhw.KPage) error
}

// Resolver materialises user pages on demand.
type Resolver struct {
	frames Framer
	swap   Swapper
	mem    vmhw.FrameMemory
}

// NewResolver builds a resolver over the process-wide frame table and
// swap store.
func NewResolver(frames Framer, swap Swapper, mem vmhw.FrameMemory) *Resolver {
	return &Resolver{frames: frames, swap: swap, mem: mem}
}

// LoadPage makes upage resident and mapped in pd, the address space
// owner's hardware page directory. It returns true on success, false if
// upage is unknown to spt or materialisation fails at any step. This
// single protocol covers demand zero, swap-in, and demand-paged file
// load.
func (r *Resolver) LoadPage(spt *vmspt.Table, pd vmhw.PageDirectory, owner vmframe.Owner, upage vmhw.UPage) bool {
	spte, ok := spt.Find(upage)
	if !ok {
		slog.Debug("vmfault: load_page: no spt entry", "upage", upage)
		return false
	}

	// Already resident: a racing fault got there first.
	if spte.Status == vmspt.OnFrame {
		return true
	}

	kpage, err := r.frames.Alloc(vmhw.FrameAllocFlagUser, upage, owner)
	if err != nil {
		slog.Error("vmfault: load_page: frame alloc failed", "upage", upage, "err", err)
		return false
	}

	writable := true
	var matErr error
	switch spte.Status {
	case vmspt.AllZeros:
		matErr = r.mem.ZeroFrame(kpage)
	case vmspt.OnSwap:
		matErr = r.swap.In(spte.SwapIndex, kpage)
	case vmspt.FromFilesys:
		matErr = r.loadFromFile(kpage, spte)
		writable = spte.Writable
	default:
		matErr = fmt.Errorf("vmfault: unreachable status %s at load_page", spte.Status)
	}
	if matErr != nil {
		slog.Error("vmfault: load_page: materialise failed", "upage", upage, "status", spte.Status, "err", matErr)
		_ = r.frames.Free(kpage)
		return false
	}

	if !pd.SetPage(upage, kpage, writable) {
		slog.Error("vmfault: load_page: page directory install failed", "upage", upage)
		_ = r.frames.Free(kpage)
		return false
	}

	spt.SetFrame(upage, kpage)
	// Fresh page is clean by convention: clear the dirty bit on both
	// aliases of the new mapping.
	pd.SetDirty(uintptr(upage), false)
	pd.SetDirty(uintptr(kpage), false)

	r.frames.Unpin(kpage)
	return true
}

func (r *Resolver) loadFromFile(kpage vmhw.KPage, spte vmspt.Entry) error {
	buf := make([]byte, vmhw.PageSize)
	if spte.ReadBytes > 0 {
		n, err := spte.File.ReadAt(buf[:spte.ReadBytes], spte.FileOffset)
		if err != nil {
			return fmt.Errorf("vmfault: read file: %w", err)
		}
		if n != spte.ReadBytes {
			return fmt.Errorf("%w: %d/%d", ErrShortRead, n, spte.ReadBytes)
		}
	}
	// buf[spte.ReadBytes:] is already zero.
	return r.mem.WriteFrame(kpage, buf)
}
