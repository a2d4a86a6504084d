// cmd/looptrack-state inspects or clears the saved race without starting the
// console. Useful when a checkpoint needs looking at after a crash.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kingrea/looptrack/internal/checkpoint"
	"github.com/kingrea/looptrack/internal/config"
	"github.com/kingrea/looptrack/internal/livefeed"
	"github.com/kingrea/looptrack/internal/race"
)

func main() {
	projectDir := flag.String("project", "", "directory holding .looptrack (defaults to cwd)")
	discard := flag.Bool("clear", false, "discard the saved race")
	asJSON := flag.Bool("json", false, "print the race in the live feed's JSON shape")
	flag.Parse()

	project := *projectDir
	if project == "" {
		var err error
		project, err = os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
	}
	absoluteProject, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	// Offline keeps Load from insisting on repository settings this tool
	// never uses.
	_ = os.Setenv("LOOPTRACK_OFFLINE", "1")
	cfg, err := config.Load(absoluteProject)
	if err != nil {
		die("load config: %v", err)
	}

	store := checkpoint.NewFile(cfg.CheckpointPath())
	if *discard {
		if err := store.Clear(); err != nil {
			die("clear checkpoint: %v", err)
		}
		fmt.Printf("Cleared %s\n", store.Path())
		return
	}

	snap, err := store.Load()
	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		fmt.Println("No saved race.")
		return
	case err != nil:
		die("read checkpoint: %v", err)
	}
	if err := snap.Validate(); err != nil {
		die("checkpoint %s would be discarded on start: %v", store.Path(), err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(livefeed.View(snap, cfg.Course())); err != nil {
			die("encode: %v", err)
		}
		return
	}
	printSummary(snap, cfg.Course())
}

func printSummary(snap race.Snapshot, course race.Course) {
	elapsed := time.Duration(snap.ElapsedTime) * time.Millisecond
	state := "paused"
	if snap.IsRunning && snap.Phase == race.PhaseRunning {
		state = "running"
	}
	fmt.Printf("Run %s · %s · clock %s (%s)\n", snap.RunID, snap.Phase, race.FormatClock(elapsed), state)
	fmt.Printf("Saved %s\n", time.UnixMilli(snap.SavedAt).Format(time.RFC3339))
	for _, p := range race.DisplayOrder(snap.Participants) {
		fmt.Printf("  %-20s %-9s S%d M%d L%d  %.1f km  %s\n",
			p.DisplayName(), p.Status, p.SmallLoops, p.MediumLoops, p.LongLoops,
			race.Kilometres(course.ParticipantDistance(p)),
			race.FormatFinishTime(p.Elapsed(elapsed)))
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
