package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/looptrack/internal/publish"
	"github.com/kingrea/looptrack/internal/race"
	"github.com/kingrea/looptrack/internal/roster"
)

// runnerItem implements list.Item for a roster entry.
type runnerItem struct {
	runner   roster.Participant
	selected bool
	seed     string
}

func (i runnerItem) Title() string {
	mark := "[ ]"
	if i.selected {
		mark = "[x]"
	}
	return fmt.Sprintf("%s %s", mark, i.runner.Name)
}

func (i runnerItem) Description() string {
	if i.seed == "" {
		return "no previous time"
	}
	return "last time " + i.seed
}

func (i runnerItem) FilterValue() string { return i.runner.Name }

// listKeys are forwarded to the roster list; everything else is ours.
var listKeys = map[string]bool{
	"up": true, "down": true, "k": true, "j": true,
	"pgup": true, "pgdown": true, "home": true, "end": true,
}

func (a *App) loadRoster() tea.Cmd {
	ctx := a.ctx
	return func() tea.Msg {
		runners, err := a.deps.Roster.List(ctx)
		msg := rosterLoadedMsg{runners: runners, err: err}
		if a.deps.History != nil {
			msg.seeds = a.deps.History.SeedTimes(ctx)
			msg.staged = a.deps.History.StagedRuns(ctx)
		}
		return msg
	}
}

func (a *App) handleRosterLoaded(msg rosterLoadedMsg) {
	a.loading = false
	if msg.err != nil {
		a.fail("Loading roster failed", msg.err)
		return
	}
	a.runners = msg.runners
	if msg.seeds != nil {
		a.seeds = msg.seeds
	}
	a.staged = msg.staged
	a.refreshRunnerItems()
}

// refreshRunnerItems rebuilds the list. While picking a late entrant only
// runners not already on the board are offered.
func (a *App) refreshRunnerItems() {
	onBoard := map[string]bool{}
	if a.picking {
		for _, p := range a.view().board {
			onBoard[p.ID] = true
		}
	}
	items := make([]list.Item, 0, len(a.runners))
	for _, r := range a.runners {
		if onBoard[r.ID] {
			continue
		}
		item := runnerItem{runner: r, selected: a.selected[r.ID]}
		if d, ok := a.seeds[r.ID]; ok {
			item.seed = race.FormatFinishTime(d)
		}
		items = append(items, item)
	}
	index := a.runnerList.Index()
	a.runnerList.SetItems(items)
	if len(items) > 0 {
		a.runnerList.Select(clamp(index, 0, len(items)-1))
	}
}

func (a *App) handleSetupKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "esc":
		return a, tea.Quit
	case " ", "space":
		a.toggleRunner()
		return a, nil
	case "g":
		return a, a.beginInput(inputGuest, "")
	case "n":
		return a, a.beginInput(inputRunner, "")
	case "x":
		if len(a.guests) > 0 {
			dropped := a.guests[len(a.guests)-1]
			a.guests = a.guests[:len(a.guests)-1]
			a.statusMsg = fmt.Sprintf("Removed guest %s", dropped.Nickname)
		}
		return a, nil
	case "r":
		a.loading = true
		a.statusMsg = "Reloading roster..."
		return a, a.loadRoster()
	case "enter", "s":
		return a, a.startRace()
	}
	if listKeys[key] {
		var cmd tea.Cmd
		a.runnerList, cmd = a.runnerList.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) toggleRunner() {
	item, ok := a.runnerList.SelectedItem().(runnerItem)
	if !ok {
		return
	}
	id := item.runner.ID
	if a.selected[id] {
		delete(a.selected, id)
	} else {
		a.selected[id] = true
	}
	item.selected = a.selected[id]
	a.runnerList.SetItem(a.runnerList.Index(), item)
}

// addGuest adds a guest to the line-up before the start, or straight onto
// the board once the race is running.
func (a *App) addGuest(nickname string) {
	if nickname == "" {
		a.statusMsg = "A guest needs a nickname"
		return
	}
	guest := race.NewGuest(nickname)
	if a.view().phase == race.PhaseRunning {
		if a.apply("Adding guest failed", func(s *race.Session) error { return s.AddLate(guest) }) {
			a.logInfo("Late entry · guest %s", nickname)
			a.statusMsg = fmt.Sprintf("%s joined the race", nickname)
			a.follow(guest.ID)
		}
		return
	}
	a.guests = append(a.guests, guest)
	a.statusMsg = fmt.Sprintf("Guest %s added", nickname)
}

func (a *App) saveRunner(name string) tea.Cmd {
	if name == "" {
		a.statusMsg = "A runner needs a name"
		return nil
	}
	id, err := publish.ProfileID(name)
	if err != nil {
		a.fail("New runner", err)
		return nil
	}
	for _, r := range a.runners {
		if r.ID == id {
			a.statusMsg = fmt.Sprintf("%s is already on the roster", r.Name)
			return nil
		}
	}
	profile := roster.NewParticipant(id, name, a.now())
	ctx := a.ctx
	a.statusMsg = fmt.Sprintf("Saving %s...", name)
	return func() tea.Msg {
		saved, err := a.deps.Roster.Save(ctx, profile, nil)
		return runnerSavedMsg{runner: saved, err: err}
	}
}

func (a *App) entrants() []race.Entrant {
	var out []race.Entrant
	for _, r := range a.runners {
		if a.selected[r.ID] {
			out = append(out, r.Entrant())
		}
	}
	return append(out, a.guests...)
}

func (a *App) startRace() tea.Cmd {
	entrants := a.entrants()
	if len(entrants) == 0 {
		a.statusMsg = "Select at least one runner or add a guest"
		return nil
	}
	if a.deps.Guard.Held() != nil {
		a.confirm = confirmReplaceCheckpoint
		return nil
	}
	seeds := a.seeds
	if !a.apply("Starting race failed", func(s *race.Session) error { return s.Start(entrants, seeds) }) {
		return nil
	}
	a.cursor = 0
	a.guests = nil
	a.selected = map[string]bool{}
	a.refreshRunnerItems()
	a.logInfo("Race started · %d participant(s)", len(entrants))
	a.statusMsg = "Race started"
	return nil
}

func (a *App) renderSetup() string {
	var sections []string
	if a.loading {
		sections = append(sections, dimStyle.Render("Loading roster..."))
	} else if len(a.runners) == 0 {
		sections = append(sections, dimStyle.Render("No runners on the roster yet. Press n to add one."))
	} else {
		sections = append(sections, a.runnerList.View())
	}

	var side []string
	side = append(side, titleStyle.Render(fmt.Sprintf("Line-up (%d)", len(a.entrants()))))
	for _, e := range a.entrants() {
		label := e.Name
		if e.Guest {
			label += dimStyle.Render(" · guest")
		}
		side = append(side, "  "+label)
	}
	if len(a.staged) > 0 {
		dates := make([]string, 0, 3)
		for i, run := range a.staged {
			if i == 3 {
				break
			}
			dates = append(dates, run.Date)
		}
		side = append(side, "", dimStyle.Render("Published: "+strings.Join(dates, ", ")))
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top,
		strings.Join(sections, "\n"),
		"    ",
		strings.Join(side, "\n"),
	)
	hint := hintStyle.Render("space select · g guest · x drop guest · n new runner · r reload · enter start · q quit")
	return lipgloss.JoinVertical(lipgloss.Left, body, hint)
}
