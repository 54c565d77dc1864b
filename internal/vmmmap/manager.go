// Package vmmmap implements the memory-mapped-file lifecycle of spec
// §4.5: installing a file-backed page range and writing it back,
// per-page, on unmap. Grounded on internal/storage.OverflowManager for
// the "own an id'd descriptor, chain/range of pages, tear it down"
// shape, and on internal/wal/manager.go's ordering discipline (compute
// the durable payload before mutating live state) for why write-back
// happens before the SPT entry and hardware mapping are torn down.
package vmmmap

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pintos-group-black-premium-car/pintos/internal/vmframe"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmspt"
)

// Framer is the slice of vmframe.Table the mmap manager needs.
type Framer interface {
	Alloc(flags vmhw.AllocFlags, upage vmhw.UPage, owner vmframe.Owner) (vmhw.KPage, error)
	Free(kpage vmhw.KPage) error
	Pin(kpage vmhw.KPage)
}

// Swapper is the slice of vmswap.Store the mmap manager needs.
type Swapper interface {
	In(slot int, kpage vmhw.KPage) error
	Free(slot int)
}

// Descriptor records one active mapping.
type Descriptor struct {
	ID        int
	File      vmhw.File
	Addr      vmhw.UPage
	Size      int64
	PageCount int
}

// Manager owns every mmap descriptor for one address space. IDs are
// strictly increasing starting at 1, per spec §3.
type Manager struct {
	mu     sync.Mutex
	descs  map[int]*Descriptor
	nextID int
}

// NewManager creates an empty mmap manager.
func NewManager() *Manager {
	return &Manager{descs: make(map[int]*Descriptor), nextID: 1}
}

func pageAligned(upage vmhw.UPage) bool {
	return uintptr(upage)%vmhw.PageSize == 0
}

// Map installs FROM_FILESYS entries for every page of handle, reopened
// privately through fsys so that the caller closing its own descriptor
// does not invalidate the mapping. It rejects upage = 0, a misaligned
// upage, an empty file, a handle the syscall layer marked as stdin/
// stdout (signalled by a nil handle), and any overlap with an existing
// SPT entry.
func (m *Manager) Map(spt *vmspt.Table, fsys vmhw.FileSystem, handle any, upage vmhw.UPage) (id int, ok bool) {
	if upage.IsZero() || !pageAligned(upage) {
		return 0, false
	}
	if handle == nil {
		return 0, false
	}

	f, err := fsys.Reopen(handle)
	if err != nil {
		slog.Error("vmmmap: map: reopen failed", "err", err)
		return 0, false
	}

	size := f.Length()
	if size <= 0 {
		_ = f.Close()
		return 0, false
	}

	pageCount := int((size + vmhw.PageSize - 1) / vmhw.PageSize)

	for i := 0; i < pageCount; i++ {
		up := vmhw.UPage(uintptr(upage) + uintptr(i)*vmhw.PageSize)
		if spt.HasEntry(up) {
			_ = f.Close()
			return 0, false
		}
	}

	for i := 0; i < pageCount; i++ {
		up := vmhw.UPage(uintptr(upage) + uintptr(i)*vmhw.PageSize)
		offset := int64(i) * vmhw.PageSize
		remaining := size - offset
		readBytes := remaining
		if readBytes > vmhw.PageSize {
			readBytes = vmhw.PageSize
		}
		zeroBytes := vmhw.PageSize - int(readBytes)
		spt.InstallFilesys(up, f, offset, int(readBytes), zeroBytes, true)
	}

	m.mu.Lock()
	id = m.nextID
	m.nextID++
	m.descs[id] = &Descriptor{ID: id, File: f, Addr: upage, Size: size, PageCount: pageCount}
	m.mu.Unlock()

	slog.Debug("vmmmap: map", "id", id, "addr", upage, "pages", pageCount)
	return id, true
}

// Unmap writes back every page of mapping id per its current SPT status,
// removes the SPT entries, closes the reopened file, and drops the
// descriptor. It returns false for an unknown id.
func (m *Manager) Unmap(id int, spt *vmspt.Table, pd vmhw.PageDirectory, frames Framer, swap Swapper, mem vmhw.FrameMemory, owner vmframe.Owner) bool {
	m.mu.Lock()
	desc, ok := m.descs[id]
	if ok {
		delete(m.descs, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	for i := 0; i < desc.PageCount; i++ {
		up := vmhw.UPage(uintptr(desc.Addr) + uintptr(i)*vmhw.PageSize)
		m.writeBackPage(spt, pd, frames, swap, mem, owner, up)
		spt.Remove(up)
	}

	_ = desc.File.Close()
	slog.Debug("vmmmap: unmap", "id", id)
	return true
}

func (m *Manager) writeBackPage(spt *vmspt.Table, pd vmhw.PageDirectory, frames Framer, swap Swapper, mem vmhw.FrameMemory, owner vmframe.Owner, upage vmhw.UPage) {
	spte, ok := spt.Find(upage)
	if !ok {
		return
	}

	switch spte.Status {
	case vmspt.OnFrame:
		frames.Pin(spte.KPage)
		dirty := spte.Dirty || pd.IsDirty(uintptr(upage)) || pd.IsDirty(uintptr(spte.KPage))
		if dirty {
			buf := make([]byte, vmhw.PageSize)
			if err := mem.ReadFrame(spte.KPage, buf); err != nil {
				slog.Error("vmmmap: unmap: read frame failed", "upage", upage, "err", err)
			} else if _, err := spte.File.WriteAt(buf[:spte.ReadBytes], spte.FileOffset); err != nil {
				slog.Error("vmmmap: unmap: write back failed", "upage", upage, "err", err)
			}
		}
		if err := frames.Free(spte.KPage); err != nil {
			slog.Error("vmmmap: unmap: free frame failed", "upage", upage, "err", err)
		}
		pd.ClearPage(upage)

	case vmspt.OnSwap:
		dirty := spte.Dirty || pd.IsDirty(uintptr(upage))
		if dirty {
			scratch, err := frames.Alloc(vmhw.FrameAllocFlagUser, upage, owner)
			if err != nil {
				slog.Error("vmmmap: unmap: scratch alloc failed", "upage", upage, "err", err)
				return
			}
			if err := swap.In(spte.SwapIndex, scratch); err != nil {
				slog.Error("vmmmap: unmap: swap in failed", "upage", upage, "err", err)
				_ = frames.Free(scratch)
				return
			}
			buf := make([]byte, vmhw.PageSize)
			if err := mem.ReadFrame(scratch, buf); err != nil {
				slog.Error("vmmmap: unmap: read scratch failed", "upage", upage, "err", err)
			} else if _, err := spte.File.WriteAt(buf[:spte.ReadBytes], spte.FileOffset); err != nil {
				slog.Error("vmmmap: unmap: write back failed", "upage", upage, "err", err)
			}
			_ = frames.Free(scratch)
		} else {
			swap.Free(spte.SwapIndex)
		}

	case vmspt.FromFilesys:
		// Never faulted in: no work.

	case vmspt.AllZeros:
		panic(fmt.Errorf("%w: upage %s", ErrZeroPageMapped, upage))
	}
}
