package vmfault

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pintos-group-black-premium-car/pintos/internal/vmframe"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmspt"
)

// fakeFrames is a Framer fake backed by a trivial counter; it never
// evicts, which is enough to exercise the resolver in isolation.
type fakeFrames struct {
	next   vmhw.KPage
	pinned map[vmhw.KPage]bool
	freed  []vmhw.KPage
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{next: 0x1000, pinned: map[vmhw.KPage]bool{}}
}

func (f *fakeFrames) Alloc(vmhw.AllocFlags, vmhw.UPage, vmframe.Owner) (vmhw.KPage, error) {
	k := f.next
	f.next += vmhw.PageSize
	f.pinned[k] = true
	return k, nil
}

func (f *fakeFrames) Free(kpage vmhw.KPage) error {
	f.freed = append(f.freed, kpage)
	delete(f.pinned, kpage)
	return nil
}

func (f *fakeFrames) Unpin(kpage vmhw.KPage) { f.pinned[kpage] = false }

type fakeSwap struct {
	slots map[int][]byte
}

func (s *fakeSwap) In(slot int, kpage vmhw.KPage) error {
	_, ok := s.slots[slot]
	if !ok {
		return errors.New("fakeSwap: unoccupied slot")
	}
	delete(s.slots, slot)
	return nil
}

type fakeMemory struct {
	frames map[vmhw.KPage][]byte
}

func newFakeMemory() *fakeMemory { return &fakeMemory{frames: map[vmhw.KPage][]byte{}} }

func (m *fakeMemory) frame(k vmhw.KPage) []byte {
	f, ok := m.frames[k]
	if !ok {
		f = make([]byte, vmhw.PageSize)
		for i := range f {
			f[i] = 0xFF // non-zero sentinel so the test can tell ZeroFrame actually ran
		}
		m.frames[k] = f
	}
	return f
}

func (m *fakeMemory) ReadFrame(k vmhw.KPage, buf []byte) error  { copy(buf, m.frame(k)); return nil }
func (m *fakeMemory) WriteFrame(k vmhw.KPage, buf []byte) error { copy(m.frame(k), buf); return nil }
func (m *fakeMemory) ZeroFrame(k vmhw.KPage) error {
	f := m.frame(k)
	for i := range f {
		f[i] = 0
	}
	return nil
}

type fakeDirectory struct {
	mapped    map[vmhw.UPage]vmhw.KPage
	writable  map[vmhw.UPage]bool
	dirty     map[uintptr]bool
	installOK bool
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		mapped: map[vmhw.UPage]vmhw.KPage{}, writable: map[vmhw.UPage]bool{},
		dirty: map[uintptr]bool{}, installOK: true,
	}
}

func (d *fakeDirectory) SetPage(upage vmhw.UPage, kpage vmhw.KPage, writable bool) bool {
	if !d.installOK {
		return false
	}
	d.mapped[upage] = kpage
	d.writable[upage] = writable
	return true
}
func (d *fakeDirectory) ClearPage(upage vmhw.UPage)           { delete(d.mapped, upage) }
func (d *fakeDirectory) IsAccessed(vmhw.UPage) bool           { return false }
func (d *fakeDirectory) SetAccessed(vmhw.UPage, bool)         {}
func (d *fakeDirectory) IsDirty(addr uintptr) bool            { return d.dirty[addr] }
func (d *fakeDirectory) SetDirty(addr uintptr, v bool)        { d.dirty[addr] = v }

type fakeOwner struct{ pd *fakeDirectory }

func (o *fakeOwner) PageDirectory() vmhw.PageDirectory { return o.pd }
func (o *fakeOwner) EvictNotify(vmhw.UPage, int, bool) {}

type fakeFile struct {
	data []byte
}

func (f *fakeFile) Length() int64 { return int64(len(f.data)) }
func (f *fakeFile) ReadAt(buf []byte, offset int64) (int, error) {
	n := copy(buf, f.data[offset:])
	return n, nil
}
func (f *fakeFile) WriteAt(buf []byte, offset int64) (int, error) { return 0, nil }
func (f *fakeFile) Close() error                                  { return nil }

func TestResolver_LoadPage_UnknownUpageFails(t *testing.T) {
	r := NewResolver(newFakeFrames(), &fakeSwap{}, newFakeMemory())
	spt := vmspt.NewTable()
	owner := &fakeOwner{pd: newFakeDirectory()}

	require.False(t, r.LoadPage(spt, owner.pd, owner, vmhw.UPage(0x1000)))
}

func TestResolver_LoadPage_AlreadyResidentIsNoop(t *testing.T) {
	frames := newFakeFrames()
	r := NewResolver(frames, &fakeSwap{}, newFakeMemory())
	spt := vmspt.NewTable()
	owner := &fakeOwner{pd: newFakeDirectory()}

	spt.InstallFrame(vmhw.UPage(0x1000), vmhw.KPage(0x9000))
	require.True(t, r.LoadPage(spt, owner.pd, owner, vmhw.UPage(0x1000)))
	require.Empty(t, frames.freed)
}

func TestResolver_LoadPage_DemandZero(t *testing.T) {
	mem := newFakeMemory()
	frames := newFakeFrames()
	r := NewResolver(frames, &fakeSwap{}, mem)
	spt := vmspt.NewTable()
	owner := &fakeOwner{pd: newFakeDirectory()}

	spt.InstallZeroPage(vmhw.UPage(0x1000))
	require.True(t, r.LoadPage(spt, owner.pd, owner, vmhw.UPage(0x1000)))

	e, _ := spt.Find(vmhw.UPage(0x1000))
	require.Equal(t, vmspt.OnFrame, e.Status)
	require.False(t, frames.pinned[e.KPage]) // unpinned after install
	for _, b := range mem.frame(e.KPage) {
		require.Zero(t, b)
	}
}

func TestResolver_LoadPage_Filesys_FillsReadAndZeroBytes(t *testing.T) {
	mem := newFakeMemory()
	frames := newFakeFrames()
	r := NewResolver(frames, &fakeSwap{}, mem)
	spt := vmspt.NewTable()
	owner := &fakeOwner{pd: newFakeDirectory()}

	file := &fakeFile{data: make([]byte, 100)}
	for i := range file.data {
		file.data[i] = 0x42
	}
	spt.InstallFilesys(vmhw.UPage(0x1000), file, 0, 100, vmhw.PageSize-100, false)

	require.True(t, r.LoadPage(spt, owner.pd, owner, vmhw.UPage(0x1000)))

	e, _ := spt.Find(vmhw.UPage(0x1000))
	frame := mem.frame(e.KPage)
	require.Equal(t, byte(0x42), frame[0])
	require.Equal(t, byte(0x42), frame[99])
	require.Zero(t, frame[100])
	require.False(t, owner.pd.writable[vmhw.UPage(0x1000)])
}

func TestResolver_LoadPage_FilesysShortReadFreesFrameAndFails(t *testing.T) {
	mem := newFakeMemory()
	frames := newFakeFrames()
	r := NewResolver(frames, &fakeSwap{}, mem)
	spt := vmspt.NewTable()
	owner := &fakeOwner{pd: newFakeDirectory()}

	file := &fakeFile{data: make([]byte, 10)} // shorter than promised read_bytes
	spt.InstallFilesys(vmhw.UPage(0x1000), file, 0, 100, vmhw.PageSize-100, false)

	require.False(t, r.LoadPage(spt, owner.pd, owner, vmhw.UPage(0x1000)))
	require.Len(t, frames.freed, 1)
}

func TestResolver_LoadPage_PageDirectoryFailureFreesFrame(t *testing.T) {
	mem := newFakeMemory()
	frames := newFakeFrames()
	r := NewResolver(frames, &fakeSwap{}, mem)
	spt := vmspt.NewTable()
	pd := newFakeDirectory()
	pd.installOK = false
	owner := &fakeOwner{pd: pd}

	spt.InstallZeroPage(vmhw.UPage(0x1000))
	require.False(t, r.LoadPage(spt, pd, owner, vmhw.UPage(0x1000)))
	require.Len(t, frames.freed, 1)
}
