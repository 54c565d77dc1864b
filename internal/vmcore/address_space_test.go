package vmcore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
)

// fakeAllocator hands out sequential kpages from a bounded pool.
type fakeAllocator struct {
	next vmhw.KPage
	free []vmhw.KPage
}

func newFakeAllocator(frameCount int) *fakeAllocator {
	a := &fakeAllocator{next: vmhw.PageSize}
	for i := 0; i < frameCount; i++ {
		a.free = append(a.free, a.next)
		a.next += vmhw.PageSize
	}
	return a
}

func (a *fakeAllocator) GetPage(vmhw.AllocFlags) (vmhw.KPage, bool) {
	if len(a.free) == 0 {
		return 0, false
	}
	k := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]
	return k, true
}

func (a *fakeAllocator) FreePage(k vmhw.KPage) { a.free = append(a.free, k) }

// fakeMemory is in-process physical memory, one byte slice per kpage.
type fakeMemory struct {
	mu     sync.Mutex
	frames map[vmhw.KPage][]byte
}

func newFakeMemory() *fakeMemory { return &fakeMemory{frames: map[vmhw.KPage][]byte{}} }

func (m *fakeMemory) frame(k vmhw.KPage) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.frames[k]
	if !ok {
		f = make([]byte, vmhw.PageSize)
		m.frames[k] = f
	}
	return f
}

func (m *fakeMemory) ReadFrame(k vmhw.KPage, buf []byte) error { copy(buf, m.frame(k)); return nil }
func (m *fakeMemory) WriteFrame(k vmhw.KPage, buf []byte) error {
	copy(m.frame(k), buf)
	return nil
}
func (m *fakeMemory) ZeroFrame(k vmhw.KPage) error {
	f := m.frame(k)
	for i := range f {
		f[i] = 0
	}
	return nil
}

// fakeDevice is an in-memory block device sized to hold a handful of slots.
type fakeDevice struct {
	sectorSize int
	sectors    [][]byte
}

func newFakeDevice(slots int) *fakeDevice {
	sectorSize := 512
	spp := vmhw.PageSize / sectorSize
	d := &fakeDevice{sectorSize: sectorSize, sectors: make([][]byte, slots*spp)}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, sectorSize)
	}
	return d
}

func (d *fakeDevice) ReadSector(sector int64, buf []byte) error {
	copy(buf, d.sectors[sector])
	return nil
}
func (d *fakeDevice) WriteSector(sector int64, buf []byte) error {
	copy(d.sectors[sector], buf)
	return nil
}
func (d *fakeDevice) SectorSize() int      { return d.sectorSize }
func (d *fakeDevice) SizeInSectors() int64 { return int64(len(d.sectors)) }

// fakeDirectory is a hardware page directory fake.
type fakeDirectory struct {
	mu       sync.Mutex
	mapped   map[vmhw.UPage]vmhw.KPage
	accessed map[vmhw.UPage]bool
	dirty    map[uintptr]bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		mapped:   map[vmhw.UPage]vmhw.KPage{},
		accessed: map[vmhw.UPage]bool{},
		dirty:    map[uintptr]bool{},
	}
}

func (d *fakeDirectory) SetPage(upage vmhw.UPage, kpage vmhw.KPage, writable bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.mapped[upage] = kpage
	return true
}
func (d *fakeDirectory) ClearPage(upage vmhw.UPage) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mapped, upage)
}
func (d *fakeDirectory) IsAccessed(upage vmhw.UPage) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.accessed[upage]
}
func (d *fakeDirectory) SetAccessed(upage vmhw.UPage, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.accessed[upage] = v
}
func (d *fakeDirectory) IsDirty(addr uintptr) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dirty[addr]
}
func (d *fakeDirectory) SetDirty(addr uintptr, v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dirty[addr] = v
}

// fakeFile and fakeFileSystem back mmap tests.
type fakeFile struct {
	data   []byte
	closed bool
}

func (f *fakeFile) Length() int64 { return int64(len(f.data)) }
func (f *fakeFile) ReadAt(buf []byte, offset int64) (int, error) {
	return copy(buf, f.data[offset:]), nil
}
func (f *fakeFile) WriteAt(buf []byte, offset int64) (int, error) {
	need := offset + int64(len(buf))
	if need > int64(len(f.data)) {
		grown := make([]byte, need)
		copy(grown, f.data)
		f.data = grown
	}
	copy(f.data[offset:], buf)
	return len(buf), nil
}
func (f *fakeFile) Close() error { f.closed = true; return nil }

type fakeFileSystem struct{ files map[any]*fakeFile }

func (fs *fakeFileSystem) Reopen(handle any) (vmhw.File, error) {
	return fs.files[handle], nil
}

func newCoreForTest(t *testing.T, frameCount, swapSlots int) (*Core, *fakeAllocator, *fakeMemory) {
	t.Helper()
	alloc := newFakeAllocator(frameCount)
	mem := newFakeMemory()
	dev := newFakeDevice(swapSlots)

	core, err := NewCore(frameCount, alloc, dev, mem, nil)
	require.NoError(t, err)
	return core, alloc, mem
}

func TestAddressSpace_LoadPage_ResolvesZeroPage(t *testing.T) {
	core, _, mem := newCoreForTest(t, 2, 2)
	pd := newFakeDirectory()
	as := core.NewAddressSpace(pd, &fakeFileSystem{}, &sync.Mutex{})

	as.InstallZeroPage(vmhw.UPage(0x1000))
	require.True(t, as.LoadPage(vmhw.UPage(0x1000)))

	kpage, ok := pd.mapped[vmhw.UPage(0x1000)]
	require.True(t, ok)
	require.Equal(t, make([]byte, vmhw.PageSize), mem.frame(kpage))
}

func TestAddressSpace_PinForIO_PinsEveryPageInRange(t *testing.T) {
	core, _, _ := newCoreForTest(t, 4, 2)
	pd := newFakeDirectory()
	as := core.NewAddressSpace(pd, &fakeFileSystem{}, &sync.Mutex{})

	as.InstallZeroPage(vmhw.UPage(0x1000))
	as.InstallZeroPage(vmhw.UPage(0x2000))

	ok := as.PinForIO(0x1000, vmhw.PageSize+1)
	require.True(t, ok)

	as.UnpinForIO([]vmhw.UPage{vmhw.UPage(0x1000), vmhw.UPage(0x2000)})
}

func TestAddressSpace_PinForIO_FailsAndUnwindsOnUnknownPage(t *testing.T) {
	core, _, _ := newCoreForTest(t, 4, 2)
	pd := newFakeDirectory()
	as := core.NewAddressSpace(pd, &fakeFileSystem{}, &sync.Mutex{})

	as.InstallZeroPage(vmhw.UPage(0x1000))
	// 0x2000 has no SPT entry: LoadPage fails there.
	ok := as.PinForIO(0x1000, vmhw.PageSize+1)
	require.False(t, ok)
}

func TestAddressSpace_MmapThenMunmap_WritesBackDirtyPage(t *testing.T) {
	core, _, mem := newCoreForTest(t, 4, 2)
	pd := newFakeDirectory()
	fs := &fakeFileSystem{files: map[any]*fakeFile{1: {data: make([]byte, 10)}}}
	as := core.NewAddressSpace(pd, fs, &sync.Mutex{})

	id, ok := as.Mmap(1, vmhw.UPage(0x1000))
	require.True(t, ok)

	require.True(t, as.LoadPage(vmhw.UPage(0x1000)))
	kpage := pd.mapped[vmhw.UPage(0x1000)]
	buf := append([]byte{0xAB}, make([]byte, vmhw.PageSize-1)...)
	require.NoError(t, mem.WriteFrame(kpage, buf))
	as.spt.SetDirty(vmhw.UPage(0x1000), true)

	require.True(t, as.Munmap(id))
	require.Equal(t, byte(0xAB), fs.files[1].data[0])
	require.False(t, as.HasEntry(vmhw.UPage(0x1000)))
}

func TestAddressSpace_Destroy_ForgetsItselfFromCore(t *testing.T) {
	core, _, _ := newCoreForTest(t, 2, 2)
	pd := newFakeDirectory()
	as := core.NewAddressSpace(pd, &fakeFileSystem{}, &sync.Mutex{})

	as.InstallZeroPage(vmhw.UPage(0x1000))
	require.True(t, as.LoadPage(vmhw.UPage(0x1000)))

	as.Destroy()
	core.mu.Lock()
	_, stillTracked := core.spaces[as.id]
	core.mu.Unlock()
	require.False(t, stillTracked)
}
