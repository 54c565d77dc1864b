// Command vmdemo wires an in-memory virtual-memory core end-to-end:
// it installs a handful of pages, drives a few faults, and walks one
// page through eviction and swap-in, logging each step. It is the one
// place the whole stack is composed outside of _test.go files.
package main

import (
	"flag"
	"log"
	"sync"

	"github.com/pintos-group-black-premium-car/pintos"
	"github.com/pintos-group-black-premium-car/pintos/internal/config"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmswap"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmtrace"
)

func main() {
	var cfgPath string
	var traceDir string
	var repl bool
	flag.StringVar(&cfgPath, "config", "", "path to a vmdemo yaml config (optional)")
	flag.StringVar(&traceDir, "trace-dir", "", "directory to write an eviction/swap trace log (optional)")
	flag.BoolVar(&repl, "repl", false, "drop into an interactive session instead of running the fixed scenario")
	flag.Parse()

	frameCount := 2
	swapSlots := 4
	if cfgPath != "" {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		if cfg.FramePool.Capacity > 0 {
			frameCount = cfg.FramePool.Capacity
		}
		if cfg.Swap.SizeBytes > 0 {
			swapSlots = int(cfg.Swap.SizeBytes / vmhw.PageSize)
		}
	}

	var trace vmswap.Recorder
	if traceDir != "" {
		r, err := vmtrace.Open(traceDir)
		if err != nil {
			log.Fatalf("open trace: %v", err)
		}
		defer func() { _ = r.Close() }()
		trace = r
	}

	alloc := newMemAllocator(frameCount)
	mem := newMemBacking()
	dev := newMemDevice(swapSlots)

	core, err := pintos.NewCore(frameCount, alloc, dev, mem, trace)
	if err != nil {
		log.Fatalf("new core: %v", err)
	}

	pd := newMemDirectory()
	as := core.NewAddressSpace(pd, &memFileSystem{}, &sync.Mutex{})
	defer as.Destroy()

	log.Printf("vmdemo: frame pool capacity=%d swap slots=%d", frameCount, swapSlots)

	if repl {
		if err := runREPL(core, as); err != nil {
			log.Fatalf("repl: %v", err)
		}
		return
	}

	as.InstallZeroPage(vmhw.UPage(0x1000))
	as.InstallZeroPage(vmhw.UPage(0x2000))
	as.InstallZeroPage(vmhw.UPage(0x3000))

	for _, upage := range []vmhw.UPage{0x1000, 0x2000, 0x3000, 0x1000} {
		ok := as.LoadPage(upage)
		log.Printf("vmdemo: load_page(%s) -> %v", upage, ok)
	}

	log.Printf("vmdemo: resident frames = %d/%d", core.Frames().Size(), core.Frames().Capacity())
}
