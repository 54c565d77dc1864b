package vmcore

import (
	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmmmap"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmspt"
)

// AddressSpace is one process's view of the VM core: its own
// supplemental page table and mmap manager, sharing the core's frame
// table, swap store, and resolver. It implements vmframe.Owner so the
// frame table can evict its frames and vmfault.Resolver/vmmmap.Manager
// can drive a fault or write-back against it.
type AddressSpace struct {
	id     int
	core   *Core
	pd     vmhw.PageDirectory
	fsys   vmhw.FileSystem
	fsLock vmhw.FSLock

	spt  *vmspt.Table
	mmap *vmmmap.Manager
}

// PageDirectory implements vmframe.Owner.
func (a *AddressSpace) PageDirectory() vmhw.PageDirectory { return a.pd }

// EvictNotify implements vmframe.Owner: the frame table calls this once
// it has written a victim frame owned by this address space to swap.
func (a *AddressSpace) EvictNotify(upage vmhw.UPage, swapIndex int, dirty bool) {
	a.spt.EvictNotify(upage, swapIndex, dirty)
}

// InstallFrame installs an ON_FRAME entry, e.g. for a loader placing a
// read/write segment directly.
func (a *AddressSpace) InstallFrame(upage vmhw.UPage, kpage vmhw.KPage) bool {
	return a.spt.InstallFrame(upage, kpage)
}

// InstallZeroPage installs an ALL_ZEROS entry (BSS, stack growth).
func (a *AddressSpace) InstallZeroPage(upage vmhw.UPage) {
	a.spt.InstallZeroPage(upage)
}

// InstallFilesys installs a FROM_FILESYS entry (code segment, mmap
// region installed outside of Mmap).
func (a *AddressSpace) InstallFilesys(upage vmhw.UPage, file vmhw.File, offset int64, readBytes, zeroBytes int, writable bool) {
	a.spt.InstallFilesys(upage, file, offset, readBytes, zeroBytes, writable)
}

// HasEntry reports whether upage is known to this address space.
func (a *AddressSpace) HasEntry(upage vmhw.UPage) bool { return a.spt.HasEntry(upage) }

// LoadPage resolves a page fault for upage: spec §4.4's load_page.
func (a *AddressSpace) LoadPage(upage vmhw.UPage) bool {
	return a.core.resolver.LoadPage(a.spt, a.pd, a, upage)
}

// PinForIO ensures every page in [buf, buf+size) is resident and pins
// it, per spec §4.6. It returns false (leaving nothing pinned) if any
// page fails to resolve.
func (a *AddressSpace) PinForIO(buf uintptr, size int) bool {
	start := vmhw.RoundDown(buf)
	end := buf + uintptr(size)

	var pinned []vmhw.UPage
	for addr := start; addr < end; addr += vmhw.PageSize {
		upage := vmhw.UPage(addr)
		if !a.LoadPage(upage) {
			a.UnpinForIO(pinned)
			return false
		}
		entry, _ := a.spt.Find(upage)
		a.core.frames.Pin(entry.KPage)
		pinned = append(pinned, upage)
	}
	return true
}

// UnpinForIO releases the pins PinForIO took over upages.
func (a *AddressSpace) UnpinForIO(upages []vmhw.UPage) {
	for _, upage := range upages {
		entry, ok := a.spt.Find(upage)
		if ok && entry.Status == vmspt.OnFrame {
			a.core.frames.Unpin(entry.KPage)
		}
	}
}

// Mmap installs a file-backed mapping at upage, per spec §4.5. handle is
// reopened privately through the address space's filesystem; nil marks
// a descriptor the syscall layer has determined to be stdin/stdout.
func (a *AddressSpace) Mmap(handle any, upage vmhw.UPage) (id int, ok bool) {
	a.fsLock.Lock()
	defer a.fsLock.Unlock()
	return a.mmap.Map(a.spt, a.fsys, handle, upage)
}

// Munmap tears down mapping id, writing back dirty pages first.
func (a *AddressSpace) Munmap(id int) bool {
	a.fsLock.Lock()
	defer a.fsLock.Unlock()
	return a.mmap.Unmap(id, a.spt, a.pd, a.core.frames, a.core.swap, a.core.mem, a)
}

// Destroy tears down the whole address space: every SPT entry is
// released (frame entries removed, swap slots freed) and the address
// space is forgotten by its core.
func (a *AddressSpace) Destroy() {
	a.spt.Destroy(a.core.frames, a.core.swap)
	a.core.forget(a.id)
}
