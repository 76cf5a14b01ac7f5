// Command overstoryd is the coordination core's background daemon: it
// ticks the watchdog on a fixed interval, checks for run completion after
// every tick, and exits cleanly on SIGINT/SIGTERM. Exactly one instance
// may run against a given data directory at a time — it is also the only
// process that ever opens the bbolt-backed coordination database, since
// bbolt takes an exclusive OS file lock for the life of an open handle.
// Every other process (the overstory CLI, invoked repeatedly by workers)
// talks to this daemon instead, over the Unix domain socket internal/ipc
// serves; the read-only dashboard (internal/webapi) is mounted directly
// here too, reading through the same already-open stores.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/jayminwest/overstory/internal/beads"
	"github.com/jayminwest/overstory/internal/config"
	"github.com/jayminwest/overstory/internal/events"
	"github.com/jayminwest/overstory/internal/ipc"
	"github.com/jayminwest/overstory/internal/mail"
	"github.com/jayminwest/overstory/internal/metrics"
	"github.com/jayminwest/overstory/internal/mulch"
	"github.com/jayminwest/overstory/internal/nudge"
	"github.com/jayminwest/overstory/internal/rundetect"
	"github.com/jayminwest/overstory/internal/session"
	"github.com/jayminwest/overstory/internal/store"
	"github.com/jayminwest/overstory/internal/tmux"
	"github.com/jayminwest/overstory/internal/triage"
	"github.com/jayminwest/overstory/internal/watchdog"
	"github.com/jayminwest/overstory/internal/webapi"
)

func main() {
	dataDir := flag.String("data-dir", ".overstory", "directory holding the coordination database and run markers")
	configPath := flag.String("config", "", "path to a YAML config file (defaults to <data-dir>/config.yaml)")
	coordinator := flag.String("coordinator", "coordinator", "agent name the run-completion detector notifies")
	dashboardAddr := flag.String("dashboard-addr", "", "if set, serve the read-only dashboard API on this address (e.g. 127.0.0.1:8787)")
	flag.Parse()

	logger := log.New(os.Stderr, "overstoryd: ", log.LstdFlags)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("creating data dir %s: %v", *dataDir, err)
	}

	lockPath := filepath.Join(*dataDir, "overstoryd.lock")
	fileLock := flock.New(lockPath)
	locked, err := fileLock.TryLock()
	if err != nil {
		logger.Fatalf("acquiring lock: %v", err)
	}
	if !locked {
		logger.Fatalf("overstoryd already running (lock held): %s", lockPath)
	}
	defer func() { _ = fileLock.Unlock() }()

	pidPath := filepath.Join(*dataDir, "overstoryd.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		logger.Fatalf("writing pid file: %v", err)
	}
	defer func() { _ = os.Remove(pidPath) }()

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(*dataDir, "config.yaml")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}

	db, err := store.Open(filepath.Join(*dataDir, "coordination.db"))
	if err != nil {
		logger.Fatalf("opening store: %v", err)
	}
	defer func() { _ = db.Close() }()

	sessions := session.NewStore(db)
	nudges, err := nudge.NewChannel(filepath.Join(*dataDir, "pending-nudges"))
	if err != nil {
		logger.Fatalf("opening nudge channel: %v", err)
	}
	mailStore := mail.NewStore(db, sessions, nudges)
	mailStore.SetGroupResolver(cfg.GroupResolver())
	recorder := events.NewRecorder(db)
	metricsStore := metrics.NewStore(db)

	learning, err := mulch.New(filepath.Join(*dataDir, "mulch"))
	if err != nil {
		logger.Fatalf("opening learning store: %v", err)
	}

	var triageCollaborator triage.Collaborator = triage.Disabled{}
	if cfg.Watchdog.TriageEnabled {
		logger.Print("warning: triage is enabled in config but no triage collaborator is wired; falling back to disabled")
	}

	term := tmux.NewTmux()

	wd := watchdog.New()
	wd.Sessions = sessions
	wd.Mail = mailStore
	wd.Nudges = nudges
	wd.Term = term
	wd.Tracker = beads.New(*dataDir)
	wd.Triage = triageCollaborator
	wd.Mulch = learning
	wd.Events = recorder
	wd.Metrics = metricsStore
	wd.Thresholds = cfg.Thresholds()

	detector := rundetect.New()
	detector.CurrentRun = rundetect.NewCurrentRunFile(filepath.Join(*dataDir, "current-run"))
	detector.Marker = rundetect.NewMarkerFile(filepath.Join(*dataDir, "run-complete-notified"))
	detector.Sessions = sessions
	detector.Mail = mailStore
	detector.Events = recorder
	detector.Coordinator = *coordinator

	ipcServer := ipc.NewServer(sessions, mailStore, recorder)
	socketPath := ipc.SocketPath(*dataDir)
	ipcListener, err := ipcServer.Listen(socketPath)
	if err != nil {
		logger.Fatalf("serving ipc socket %s: %v", socketPath, err)
	}
	defer func() { _ = ipcListener.Close() }()
	logger.Printf("serving coordination ipc on %s", socketPath)

	var dashboard *http.Server
	if *dashboardAddr != "" {
		dashboardServer := webapi.NewServer(sessions, mailStore, recorder, metricsStore, term)
		dashboard = &http.Server{Addr: *dashboardAddr, Handler: dashboardServer}
		go func() {
			if err := dashboard.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("dashboard server failed: %v", err)
			}
		}()
		logger.Printf("serving dashboard on %s", *dashboardAddr)
	}

	logger.Printf("overstoryd starting (pid %d, data-dir %s)", os.Getpid(), *dataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	interval := time.Duration(cfg.Watchdog.IntervalMs) * time.Millisecond
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case sig := <-sigCh:
			logger.Printf("received %v, shutting down", sig)
			if dashboard != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = dashboard.Shutdown(ctx)
				cancel()
			}
			return
		case <-timer.C:
			if err := wd.Tick(); err != nil {
				logger.Printf("watchdog tick failed: %v", err)
			}
			if notified, err := detector.Check(); err != nil {
				logger.Printf("run-completion check failed: %v", err)
			} else if notified {
				logger.Print("run completion notified")
			}
			timer.Reset(interval)
		}
	}
}
