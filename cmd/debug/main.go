// Command hydronic-debug is the offline status-dump and single-shot
// control CLI (SPEC_FULL.md's supplemented "debug/status dump tool"
// feature). Grounded on the teacher's own cmd/debug/main.go: a flag-
// driven -cmd dispatch that talks directly to the domain layer,
// bypassing the HTTP API, for quick manual fixes on the box running the
// controller. The teacher's version talked straight to sqlite; this one
// talks straight to an Engine built the same way the server builds one
// (system/startup.Bootstrap), so a debug command sees exactly the state
// the running process would compute, not a stale or reconstructed copy.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/thatsimonsguy/hydronic-controller/internal/model"
	"github.com/thatsimonsguy/hydronic-controller/system/startup"
)

func main() {
	DebugCLI()
}

func DebugCLI() {
	var command, room, mode string
	var target float64
	help := flag.Bool("help", false, "show help")
	flag.StringVar(&command, "cmd", "status", "command to run: status, set-room-mode, set-default-target")
	flag.StringVar(&room, "room", "", "room ID for room commands")
	flag.StringVar(&mode, "mode", "", "mode for set-room-mode")
	flag.Float64Var(&target, "target", 0, "target for set-default-target")
	flag.Parse()

	if *help {
		fmt.Println("\nUsage of hydronic-debug:")
		fmt.Println("  -cmd string\t\tcommand to run: status, set-room-mode, set-default-target (default 'status')")
		fmt.Println("  -room string\t\troom ID for room commands")
		fmt.Println("  -mode string\t\tmode for set-room-mode (auto, manual, passive, off)")
		fmt.Println("  -target float\t\ttarget for set-default-target")
		fmt.Println("  -help\t\t\tshow this help message")
		os.Exit(0)
	}

	cfg, _, eng := startup.Bootstrap(nil)
	now := time.Now()
	eng.Start(now)
	eng.RecomputeAll(now)

	var err error
	switch command {
	case "status":
		err = dumpStatus(eng.RoomStatuses(), eng.SystemStatusSnapshot())
	case "set-room-mode":
		if room == "" || mode == "" {
			fmt.Println("error: -room and -mode are required")
			os.Exit(1)
		}
		err = eng.Mutate(now, func() error {
			eng.SetRoomMode(room, model.RoomMode(mode))
			return nil
		})
	case "set-default-target":
		if room == "" {
			fmt.Println("error: -room is required")
			os.Exit(1)
		}
		err = cfg.SetDefaultTarget(room, target)
	default:
		fmt.Printf("unknown command %q\n", command)
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("command %s failed: %v\n", command, err)
		os.Exit(1)
	}
	fmt.Printf("command %s completed successfully\n", command)
}

func dumpStatus(rooms any, system any) error {
	out, err := json.MarshalIndent(map[string]any{"rooms": rooms, "system": system}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
