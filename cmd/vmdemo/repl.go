package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/pintos-group-black-premium-car/pintos"
	"github.com/pintos-group-black-premium-car/pintos/internal/vmhw"
)

// runREPL drives an interactive session against as, grounded on
// cmd/client's readline-based loop: a prompt, a small set of meta
// commands, and a persisted history file.
func runREPL(core *pintos.Core, as *pintos.AddressSpace) error {
	histPath := defaultHistoryPath()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "vmdemo> ",
		HistoryFile:     histPath,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("vmdemo: readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	fmt.Println("vmdemo interactive session. type \\help for commands.")

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			fmt.Println("^C")
			continue
		}
		if err != nil {
			fmt.Println()
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "\\q", "quit", "exit":
			return nil
		case "\\help":
			printREPLHelp()
		case "zero":
			withUpage(fields, func(up vmhw.UPage) {
				as.InstallZeroPage(up)
				fmt.Printf("installed all-zeros page at %s\n", up)
			})
		case "load":
			withUpage(fields, func(up vmhw.UPage) {
				ok := as.LoadPage(up)
				fmt.Printf("load_page(%s) -> %v\n", up, ok)
			})
		case "status":
			fmt.Printf("resident frames: %d/%d\n", core.Frames().Size(), core.Frames().Capacity())
		default:
			fmt.Printf("unknown command: %s (try \\help)\n", fields[0])
		}
	}
}

func withUpage(fields []string, fn func(vmhw.UPage)) {
	if len(fields) != 2 {
		fmt.Println("usage: <cmd> <upage-hex, e.g. 0x1000>")
		return
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "0x"), 16, 64)
	if err != nil {
		fmt.Printf("bad upage %q: %v\n", fields[1], err)
		return
	}
	fn(vmhw.UPage(addr))
}

func printREPLHelp() {
	fmt.Println(`commands:
  zero <upage>    install an ALL_ZEROS entry at upage (hex, e.g. 0x1000)
  load <upage>    resolve a fault for upage, faulting it in
  status          print resident frame count
  \q | quit       exit`)
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".vmdemo_history"
	}
	return home + "/.vmdemo_history"
}
