package tui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/looptrack/internal/race"
)

var loopKeys = map[string]struct {
	kind  race.LoopKind
	delta int
}{
	"1": {race.LoopSmall, 1},
	"2": {race.LoopMedium, 1},
	"3": {race.LoopLong, 1},
	"!": {race.LoopSmall, -1},
	"@": {race.LoopMedium, -1},
	"#": {race.LoopLong, -1},
}

func (a *App) handleTrackingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.picking {
		return a.handlePickKey(msg)
	}
	key := msg.String()
	v := a.view()
	p, ok := a.current(v)

	if loop, found := loopKeys[key]; found {
		if ok {
			a.mutate(p.ID, "Loop change failed", func(s *race.Session) error {
				return s.AdjustLoops(p.ID, loop.kind, loop.delta)
			})
		}
		return a, nil
	}

	switch key {
	case "q":
		a.logInfo("Console closed mid-race; the race resumes on restart")
		return a, tea.Quit
	case "up", "k":
		a.moveCursor(-1)
	case "down", "j":
		a.moveCursor(1)
	case "f":
		if ok && a.mutate(p.ID, "Finish failed", func(s *race.Session) error { return s.Finish(p.ID) }) {
			a.logInfo("%s finished", p.DisplayName())
		}
	case "r":
		if ok && a.mutate(p.ID, "Resume failed", func(s *race.Session) error { return s.Resume(p.ID) }) {
			a.logInfo("%s back on course", p.DisplayName())
		}
	case "c":
		if ok && a.mutate(p.ID, "Complete failed", func(s *race.Session) error { return s.Complete(p.ID) }) {
			a.logInfo("%s completed · %s", p.DisplayName(), a.describe(p.ID))
		}
	case "u":
		if ok {
			a.mutate(p.ID, "Undo failed", func(s *race.Session) error { return s.UndoComplete(p.ID) })
		}
	case "+", "=":
		if ok {
			a.mutate(p.ID, "Time change failed", func(s *race.Session) error {
				return s.AdjustFinishTime(p.ID, race.FinishAdjustStep)
			})
		}
	case "-", "_":
		if ok {
			a.mutate(p.ID, "Time change failed", func(s *race.Session) error {
				return s.AdjustFinishTime(p.ID, -race.FinishAdjustStep)
			})
		}
	case "p", " ":
		a.toggleClock(v)
	case "g":
		return a, a.beginInput(inputGuest, "")
	case "a":
		a.picking = true
		a.refreshRunnerItems()
		a.statusMsg = "Pick a runner to add · esc to close"
	case "x":
		if ok {
			a.confirm = confirmRemove
			a.target = p.ID
		}
	case "e":
		a.endRace(v)
		if a.view().phase == race.PhaseReview {
			return a, a.loadStaged()
		}
	case "ctrl+x":
		a.confirm = confirmCancelRace
	}
	return a, nil
}

// mutate applies fn and keeps the cursor on the participant it touched.
func (a *App) mutate(id, action string, fn func(*race.Session) error) bool {
	if !a.apply(action, fn) {
		return false
	}
	a.follow(id)
	return true
}

func (a *App) describe(id string) string {
	var out string
	a.deps.Guard.Read(func(s *race.Session) {
		p, ok := s.Participant(id)
		if !ok {
			return
		}
		out = fmt.Sprintf("%s · %.1f km", race.FormatFinishTime(p.Elapsed(s.Elapsed())),
			race.Kilometres(a.deps.Course.ParticipantDistance(p)))
	})
	return out
}

func (a *App) toggleClock(v sessionView) {
	if v.clockRunning {
		if a.apply("Pause failed", func(s *race.Session) error { return s.PauseClock() }) {
			a.logInfo("Clock paused at %s", race.FormatClock(v.elapsed))
			a.statusMsg = "Clock paused"
		}
		return
	}
	if a.apply("Resume failed", func(s *race.Session) error { return s.ResumeClock() }) {
		a.logInfo("Clock resumed at %s", race.FormatClock(v.elapsed))
		a.statusMsg = "Clock running"
	}
}

func (a *App) endRace(v sessionView) {
	err := a.deps.Guard.Apply(func(s *race.Session) error { return s.End() })
	switch {
	case errors.Is(err, race.ErrNotAllCompleted):
		a.statusMsg = fmt.Sprintf("%d participant(s) still to complete before the race can end", v.pending)
	case err != nil:
		a.fail("Ending race failed", err)
	default:
		a.cursor = 0
		a.logInfo("Race ended at %s", race.FormatClock(v.elapsed))
		a.statusMsg = "Race ended · review and publish"
	}
}

func (a *App) removeParticipant(id string) {
	name := id
	a.deps.Guard.Read(func(s *race.Session) {
		if p, ok := s.Participant(id); ok {
			name = p.DisplayName()
		}
	})
	if a.apply("Remove failed", func(s *race.Session) error { return s.Remove(id) }) {
		a.logWarn("%s removed from the race", name)
		a.statusMsg = fmt.Sprintf("Removed %s", name)
		a.moveCursor(0)
	}
}

func (a *App) handlePickKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "esc", "q":
		a.picking = false
		a.refreshRunnerItems()
		a.statusMsg = ""
		return a, nil
	case "enter":
		item, ok := a.runnerList.SelectedItem().(runnerItem)
		a.picking = false
		if ok {
			entrant := item.runner.Entrant()
			if a.apply("Adding runner failed", func(s *race.Session) error { return s.AddLate(entrant) }) {
				a.logInfo("Late entry · %s", entrant.Name)
				a.statusMsg = fmt.Sprintf("%s joined the race", entrant.Name)
				a.follow(entrant.ID)
			}
		}
		a.refreshRunnerItems()
		return a, nil
	}
	if listKeys[key] {
		var cmd tea.Cmd
		a.runnerList, cmd = a.runnerList.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) renderTracking(v sessionView) string {
	if a.picking {
		view := a.runnerList.View()
		if len(a.runnerList.Items()) == 0 {
			view = dimStyle.Render("Everyone on the roster is already racing.")
		}
		return lipgloss.JoinVertical(lipgloss.Left, view, hintStyle.Render("enter add · esc close"))
	}
	rows := []string{titleStyle.Render(fmt.Sprintf("Board · %d racing · %d to complete", len(v.board), v.pending))}
	if len(v.board) == 0 {
		rows = append(rows, dimStyle.Render("Nobody on the board. Press g or a to add someone."))
	}
	a.current(v)
	for i, p := range v.board {
		rows = append(rows, a.renderRow(p, v, i == a.cursor))
	}
	hint := "1/2/3 +loop · !/@/# -loop · f finish · r resume · c complete · u undo · +/- 5s · p clock · g guest · a runner · x remove · e end · ctrl+x cancel"
	if v.canEnd {
		hint = "Everyone is in · press e to end the race\n" + hint
	}
	rows = append(rows, hintStyle.Render(hint))
	return strings.Join(rows, "\n")
}

func (a *App) renderRow(p race.LiveParticipant, v sessionView, selected bool) string {
	name := p.DisplayName()
	if p.Guest {
		name += " (guest)"
	}
	status := statusStyles[p.Status].Render(fmt.Sprintf("%-9s", p.Status))
	loops := fmt.Sprintf("S%d M%d L%d", p.SmallLoops, p.MediumLoops, p.LongLoops)
	km := fmt.Sprintf("%4.1f km", race.Kilometres(a.deps.Course.ParticipantDistance(p)))
	line := fmt.Sprintf("%-22s %s %-12s %s  %8s", truncate(name, 22), status, loops, km,
		race.FormatFinishTime(p.Elapsed(v.elapsed)))
	if selected {
		return selectedRowStyle.Render("▸ " + line)
	}
	return "  " + line
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
