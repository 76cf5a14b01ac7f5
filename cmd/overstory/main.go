// Command overstory is the coordination core's operator and agent-facing
// CLI: send and read mail, inspect sessions, long-poll for the next
// wakeup, and check a run's completion progress. It never opens the
// coordination database itself — cmd/overstoryd holds the only handle,
// since bbolt takes an exclusive OS file lock for the life of an open
// handle — and instead talks to the daemon over a Unix domain socket via
// internal/ipc.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jayminwest/overstory/internal/cli"
	"github.com/jayminwest/overstory/internal/config"
	"github.com/jayminwest/overstory/internal/ipc"
	"github.com/jayminwest/overstory/internal/nudge"
)

func main() {
	dataDir := os.Getenv("OVERSTORY_DATA_DIR")
	if dataDir == "" {
		dataDir = ".overstory"
	}
	identity := os.Getenv("OVERSTORY_IDENTITY")

	client := ipc.NewClient(ipc.SocketPath(dataDir))

	nudges, err := nudge.NewChannel(filepath.Join(dataDir, "pending-nudges"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "overstory: opening nudge channel: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(filepath.Join(dataDir, "config.yaml"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "overstory: loading config: %v\n", err)
		os.Exit(1)
	}

	debounce := nudge.NewDebounce(filepath.Join(dataDir, "mail-check-debounce.json"))

	deps := &cli.Deps{
		Sessions:       client,
		Mail:           client,
		Nudges:         nudges,
		Events:         client,
		Debounce:       debounce,
		DebounceWindow: time.Duration(cfg.Mail.DebounceWindowMs) * time.Millisecond,
		Identity:       identity,
	}

	root := cli.NewRootCommand(deps)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "overstory: %v\n", err)
		os.Exit(1)
	}
}
