package main

import (
	"errors"
	"sync"

	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
)

// memAllocator is a trivial bump/free-list physical allocator over
// frameCount slots of process memory, standing in for the real
// physical-page allocator a kernel would provide.
type memAllocator struct {
	mu   sync.Mutex
	free []vmhw.KPage
}

func newMemAllocator(frameCount int) *memAllocator {
	a := &memAllocator{}
	for i := 1; i <= frameCount; i++ {
		a.free = append(a.free, vmhw.KPage(uintptr(i)*vmhw.PageSize))
	}
	return a
}

func (a *memAllocator) GetPage(vmhw.AllocFlags) (vmhw.KPage, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.free) == 0 {
		return 0, false
	}
	k := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	return k, true
}

func (a *memAllocator) FreePage(k vmhw.KPage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free = append(a.free, k)
}

// memBacking is the demo's physical memory: one byte slice per kpage.
type memBacking struct {
	mu     sync.Mutex
	frames map[vmhw.KPage][]byte
}

func newMemBacking() *memBacking { return &memBacking{frames: map[vmhw.KPage][]byte{}} }

func (m *memBacking) frame(k vmhw.KPage) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.frames[k]
	if !ok {
		f = make([]byte, vmhw.PageSize)
		m.frames[k] = f
	}
	return f
}

func (m *memBacking) ReadFrame(k vmhw.KPage, buf []byte) error  { copy(buf, m.frame(k)); return nil }
func (m *memBacking) WriteFrame(k vmhw.KPage, buf []byte) error { copy(m.frame(k), buf); return nil }
func (m *memBacking) ZeroFrame(k vmhw.KPage) error {
	f := m.frame(k)
	for i := range f {
		f[i] = 0
	}
	return nil
}

// memDevice is an in-memory swap block device.
type memDevice struct {
	sectorSize int
	sectors    [][]byte
}

func newMemDevice(slots int) *memDevice {
	const sectorSize = 512
	spp := vmhw.PageSize / sectorSize
	d := &memDevice{sectorSize: sectorSize, sectors: make([][]byte, slots*spp)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, sectorSize)
	}
	return d
}

func (d *memDevice) ReadSector(sector int64, buf []byte) error {
	copy(buf, d.sectors[sector])
	return nil
}

func (d *memDevice) WriteSector(sector int64, buf []byte) error {
	copy(d.sectors[sector], buf)
	return nil
}

func (d *memDevice) SectorSize() int      { return d.sectorSize }
func (d *memDevice) SizeInSectors() int64 { return int64(len(d.sectors)) }

// memDirectory is an in-memory hardware page directory stand-in.
type memDirectory struct {
	mu       sync.Mutex
	mapped   map[vmhw.UPage]vmhw.KPage
	accessed map[vmhw.UPage]bool
	dirty    map[uintptr]bool
}

func newMemDirectory() *memDirectory {
	return &memDirectory{
		mapped:   map[vmhw.UPage]vmhw.KPage{},
		accessed: map[vmhw.UPage]bool{},
		dirty:    map[uintptr]bool{},
	}
}

func (d *memDirectory) SetPage(upage vmhw.UPage, kpage vmhw.KPage, writable bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mapped[upage] = kpage
	return true
}

func (d *memDirectory) ClearPage(upage vmhw.UPage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mapped, upage)
}

func (d *memDirectory) IsAccessed(upage vmhw.UPage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accessed[upage]
}

func (d *memDirectory) SetAccessed(upage vmhw.UPage, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accessed[upage] = v
}

func (d *memDirectory) IsDirty(addr uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty[addr]
}

func (d *memDirectory) SetDirty(addr uintptr, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty[addr] = v
}

// memFileSystem has no files to reopen: vmdemo never maps a file.
type memFileSystem struct{}

func (memFileSystem) Reopen(handle any) (vmhw.File, error) {
	return nil, errors.New("vmdemo: no files registered")
}
