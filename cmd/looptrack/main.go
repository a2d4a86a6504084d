// cmd/looptrack/main.go
//
// This is the entry point for the looptrack console.
// Run `looptrack` from the directory that should hold the .looptrack
// folder (config, logs, race checkpoint).
//
// Flow:
// 1. Load config (.looptrack/config.yaml, .env, environment)
// 2. Restore any race left in the checkpoint
// 3. Start the live feed (snapshot and event stream) if enabled
// 4. Launch the TUI

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/looptrack/internal/checkpoint"
	"github.com/kingrea/looptrack/internal/config"
	"github.com/kingrea/looptrack/internal/contentstore"
	"github.com/kingrea/looptrack/internal/history"
	"github.com/kingrea/looptrack/internal/livefeed"
	"github.com/kingrea/looptrack/internal/logbook"
	"github.com/kingrea/looptrack/internal/logging"
	"github.com/kingrea/looptrack/internal/publish"
	"github.com/kingrea/looptrack/internal/roster"
	"github.com/kingrea/looptrack/internal/tui"
)

func main() {
	projectDir := flag.String("project", "", "directory holding .looptrack (defaults to cwd)")
	offline := flag.Bool("offline", false, "use an in-memory content store instead of GitHub")
	flag.Parse()

	project, err := resolveProject(*projectDir)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	if *offline {
		_ = os.Setenv("LOOPTRACK_OFFLINE", "1")
	}
	if err := config.InitDir(project); err != nil {
		die("init .looptrack: %v", err)
	}
	cfg, err := config.Load(project)
	if err != nil {
		die("load config: %v", err)
	}

	logger, err := logging.New(project)
	if err != nil {
		die("open log: %v", err)
	}
	defer logger.Close()

	journal, err := logbook.New(cfg.LogbookPath())
	if err != nil {
		die("open race log: %v", err)
	}

	store, err := openStore(cfg, logger)
	if err != nil {
		die("content store: %v", err)
	}

	course := cfg.Course()
	hub := livefeed.NewHub(course, livefeed.HubWithLogger(logger.WithField("component", "livefeed")))
	guard, err := checkpoint.NewGuard(
		checkpoint.NewFile(cfg.CheckpointPath()),
		checkpoint.WithLogger(logger.WithField("component", "checkpoint")),
		checkpoint.WithObserver(hub.Observe),
	)
	if err != nil {
		die("checkpoint: %v", err)
	}
	recovery := guard.Restore()
	if !recovery.Recovered {
		hub.Observe(guard.Snapshot())
	}

	rosterLayout := roster.Layout{
		Dir:          cfg.Project.Paths.Runners,
		PhotoDir:     cfg.Project.Paths.RunnerPhotos,
		PhotoRefBase: cfg.Project.Paths.RunnerPhotoRefBase,
	}
	provider := roster.NewProvider(store, rosterLayout, roster.WithLogger(logger.WithField("component", "roster")))
	reader := history.NewReader(store, cfg.Project.Paths.Results, cfg.Project.Paths.Staging,
		history.WithLogger(logger.WithField("component", "history")))
	publisher, err := publish.New(store, publish.Layout{
		RecordDir:    cfg.Project.Paths.Staging,
		PhotoDir:     cfg.Project.Paths.RacePhotos,
		PhotoRefBase: cfg.Project.Paths.PhotoRefBase,
		Roster:       rosterLayout,
	}, publish.WithLogger(logger.WithField("component", "publish")))
	if err != nil {
		die("publisher: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	feed := livefeed.NewServer(livefeed.SettingsFromConfig(cfg), guard,
		livefeed.WithCourse(course),
		livefeed.WithHub(hub),
		livefeed.WithLogger(logger.WithField("component", "livefeed")),
	)
	var feedURL string
	switch err := feed.Start(ctx); {
	case err == nil:
		feedURL = feed.BaseURL()
		defer shutdownFeed(feed)
	case errors.Is(err, livefeed.ErrDisabled):
	default:
		logger.Errorf("live feed unavailable: %v", err)
	}

	app, err := tui.NewApp(tui.Deps{
		Guard:     guard,
		Roster:    provider,
		History:   reader,
		Publisher: publisher,
		Logbook:   journal,
		Course:    course,
		Recovery:  recovery,
		FeedURL:   feedURL,
	}, tui.WithContext(ctx))
	if err != nil {
		die("start console: %v", err)
	}
	logger.Printf("looptrack started (offline=%v, recovered=%v)", cfg.Offline, recovery.Recovered)

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		die("run TUI: %v", err)
	}
}

func openStore(cfg *config.Config, logger *logging.Logger) (contentstore.Store, error) {
	if cfg.Offline {
		logger.Printf("offline mode: results are kept in memory and lost on exit")
		return contentstore.NewMemory(), nil
	}
	return contentstore.NewClient(cfg.StoreSettings(),
		contentstore.WithLogger(logger.WithField("component", "contentstore")))
}

func shutdownFeed(feed *livefeed.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = feed.Shutdown(ctx)
}

func resolveProject(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = cwd
	}
	return filepath.Abs(dir)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
