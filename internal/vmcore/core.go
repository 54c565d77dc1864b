// Package vmcore wires the frame table, swap store, and fault resolver
// into one process-wide container, and hands out one supplemental page
// table plus mmap manager per address space. Grounded on the
// construction shape of internal/engine.Database: a single owning
// container built once, reached afterward through a narrow set of
// methods, with no hidden package-level singleton.
package vmcore

import (
	"fmt"
	"sync"

	"github.com/pintos-group-black-premium-car/pintos/internal/vmfault"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmframe"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmmmap"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmspt"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmswap"
)

// Core is the process-wide virtual-memory container: one frame table,
// one swap store, one fault resolver, shared by every address space it
// creates.
type Core struct {
	mu sync.Mutex

	frames   *vmframe.Table
	swap     *vmswap.Store
	mem      vmhw.FrameMemory
	resolver *vmfault.Resolver

	spaces map[int]*AddressSpace
	nextID int
}

// NewCore builds the VM core: frameCount resident frames backed by
// alloc, swapping to dev, with mem the physical-memory access the
// resolver and swap store both need. trace may be nil to disable
// eviction/swap tracing.
func NewCore(frameCount int, alloc vmhw.PhysAllocator, dev vmhw.BlockDevice, mem vmhw.FrameMemory, trace vmswap.Recorder) (*Core, error) {
	swap, err := vmswap.New(dev, mem, trace)
	if err != nil {
		return nil, fmt.Errorf("vmcore: new core: %w", err)
	}

	frames := vmframe.NewTable(frameCount, alloc, swap)
	resolver := vmfault.NewResolver(frames, swap, mem)

	return &Core{
		frames:   frames,
		swap:     swap,
		mem:      mem,
		resolver: resolver,
		spaces:   make(map[int]*AddressSpace),
		nextID:   1,
	}, nil
}

// Frames exposes the process-wide frame table, e.g. for diagnostics.
func (c *Core) Frames() *vmframe.Table { return c.frames }

// NewAddressSpace creates a fresh address space bound to pd (its
// hardware page directory), fsys (private file reopen), and fsLock (the
// process-wide filesystem lock, owned by the surrounding OS).
func (c *Core) NewAddressSpace(pd vmhw.PageDirectory, fsys vmhw.FileSystem, fsLock vmhw.FSLock) *AddressSpace {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++

	as := &AddressSpace{
		id:     id,
		core:   c,
		pd:     pd,
		fsys:   fsys,
		fsLock: fsLock,
		spt:    vmspt.NewTable(),
		mmap:   vmmmap.NewManager(),
	}
	c.spaces[id] = as
	return as
}

func (c *Core) forget(id int) {
	c.mu.Lock()
	delete(c.spaces, id)
	c.mu.Unlock()
}
