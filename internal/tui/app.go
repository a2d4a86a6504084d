// internal/tui/app.go
//
// This is the operator console for looptrack. It uses bubbletea, which
// follows The Elm Architecture: input becomes a message, Update changes the
// model, View renders it.
//
// The race itself lives in a checkpoint.Guard. Every change the operator
// makes goes through Guard.Apply so it is checkpointed before the next
// frame is drawn. The screen follows the session phase: setup, running
// (tracking) or review.

package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/looptrack/internal/checkpoint"
	"github.com/kingrea/looptrack/internal/history"
	"github.com/kingrea/looptrack/internal/logbook"
	"github.com/kingrea/looptrack/internal/publish"
	"github.com/kingrea/looptrack/internal/race"
	"github.com/kingrea/looptrack/internal/roster"
)

// tickInterval only drives re-rendering of the clock; elapsed time is
// always read from the session clock.
const tickInterval = 100 * time.Millisecond

const logLines = 6

// Deps are the collaborators the console drives.
type Deps struct {
	Guard     *checkpoint.Guard
	Roster    *roster.Provider
	History   *history.Reader
	Publisher *publish.Publisher
	Logbook   *logbook.Logbook
	Course    race.Course
	Recovery  checkpoint.Recovery
	// FeedURL is shown in the header when the live feed is running.
	FeedURL string
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithContext sets the context used for store calls.
func WithContext(ctx context.Context) AppOption {
	return func(a *App) {
		if ctx != nil {
			a.ctx = ctx
		}
	}
}

// WithFileReader overrides how the race photo is read from disk.
func WithFileReader(fn func(string) ([]byte, error)) AppOption {
	return func(a *App) {
		if fn != nil {
			a.readFile = fn
		}
	}
}

// WithClock injects the wall clock used for new profiles and publish dates.
func WithClock(now func() time.Time) AppOption {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// inputMode says what the text input is collecting.
type inputMode int

const (
	inputNone inputMode = iota
	inputGuest
	inputRunner
	inputTitle
	inputBody
	inputPhoto
	inputPromoteName
)

func (m inputMode) prompt() string {
	switch m {
	case inputGuest:
		return "Guest nickname: "
	case inputRunner:
		return "New runner name: "
	case inputTitle:
		return "Race title: "
	case inputBody:
		return "Race report: "
	case inputPhoto:
		return "Photo file: "
	case inputPromoteName:
		return "Profile name: "
	}
	return "> "
}

// confirmAction is a destructive action waiting on y/n.
type confirmAction int

const (
	confirmNone confirmAction = iota
	confirmRemove
	confirmCancelRace
	confirmReplaceCheckpoint
)

type tickMsg time.Time

type rosterLoadedMsg struct {
	runners []roster.Participant
	seeds   map[string]time.Duration
	staged  []history.StagedRun
	err     error
}

type runnerSavedMsg struct {
	runner roster.Participant
	err    error
}

type stagedRecordMsg struct {
	date   string
	record publish.Record
	err    error
}

type publishDoneMsg struct {
	result publish.Result
	err    error
}

// App is the main application model.
type App struct {
	deps     Deps
	ctx      context.Context
	readFile func(string) ([]byte, error)
	now      func() time.Time

	// setup
	runnerList list.Model
	runners    []roster.Participant
	selected   map[string]bool
	guests     []race.Entrant
	seeds      map[string]time.Duration
	staged     []history.StagedRun
	loading    bool
	picking    bool

	// tracking and review
	cursor     int
	title      string
	body       string
	photoPath  string
	reuseRef   string
	stagedFor  string
	publishing bool
	// clearPending is set when a race was published but its checkpoint
	// could not be removed.
	clearPending bool

	input   textinput.Model
	mode    inputMode
	confirm confirmAction
	target  string

	notice    string
	statusMsg string
	width     int
	height    int
}

// NewApp creates a new App instance.
func NewApp(deps Deps, opts ...AppOption) (*App, error) {
	if deps.Guard == nil {
		return nil, fmt.Errorf("tui: checkpoint guard is required")
	}
	if deps.Roster == nil || deps.Publisher == nil {
		return nil, fmt.Errorf("tui: roster and publisher are required")
	}
	if deps.Course == (race.Course{}) {
		deps.Course = race.DefaultCourse
	}
	runnerList := list.New(nil, list.NewDefaultDelegate(), 60, 20)
	runnerList.Title = "Runners"
	runnerList.SetShowStatusBar(false)
	runnerList.SetFilteringEnabled(false)
	runnerList.SetShowHelp(false)

	input := textinput.New()
	input.CharLimit = 80

	app := &App{
		deps:       deps,
		ctx:        context.Background(),
		readFile:   os.ReadFile,
		now:        time.Now,
		runnerList: runnerList,
		selected:   map[string]bool{},
		seeds:      map[string]time.Duration{},
		input:      input,
		loading:    true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(app)
		}
	}
	app.notice = recoveryNotice(deps.Recovery)
	if deps.Recovery.Recovered {
		app.logInfo("Recovered %s race · %d participant(s) · clock %s",
			deps.Recovery.Phase, deps.Recovery.Participants, race.FormatClock(deps.Recovery.Elapsed))
	} else if deps.Recovery.Discarded {
		app.logWarn("Discarded an unreadable checkpoint")
	} else if deps.Recovery.Unreadable {
		app.logWarn("Saved race could not be read, left on disk: %v", deps.Recovery.Err)
	}
	return app, nil
}

func recoveryNotice(r checkpoint.Recovery) string {
	switch {
	case r.Recovered && r.Phase == race.PhaseReview:
		return fmt.Sprintf("Recovered a finished race in review · %d participant(s). Nothing was lost.", r.Participants)
	case r.Recovered:
		return fmt.Sprintf("Recovered race in progress · %d participant(s) · clock %s", r.Participants, race.FormatClock(r.Elapsed))
	case r.Discarded:
		return "A saved race could not be read and was discarded."
	case r.Unreadable:
		return fmt.Sprintf("A saved race could not be read (%v). It is kept on disk; restart to try again, or start a new race to replace it.", r.Err)
	}
	return ""
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{a.tick(), a.loadRoster()}
	if a.view().phase == race.PhaseReview {
		cmds = append(cmds, a.loadStaged())
	}
	return tea.Batch(cmds...)
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.runnerList.SetSize(max(20, msg.Width/2), max(8, msg.Height-14))
		return a, nil

	case tickMsg:
		return a, a.tick()

	case rosterLoadedMsg:
		a.handleRosterLoaded(msg)
		return a, nil

	case runnerSavedMsg:
		if msg.err != nil {
			a.fail("Saving runner failed", msg.err)
			return a, nil
		}
		a.selected[msg.runner.ID] = true
		a.statusMsg = fmt.Sprintf("Added %s to the roster", msg.runner.Name)
		a.logInfo("Roster · added %s (%s)", msg.runner.Name, msg.runner.ID)
		return a, a.loadRoster()

	case stagedRecordMsg:
		a.handleStaged(msg)
		return a, nil

	case publishDoneMsg:
		return a.handlePublished(msg)

	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return a, tea.Quit
	}
	if a.mode != inputNone {
		return a.handleInputKey(msg)
	}
	if a.confirm != confirmNone {
		return a.handleConfirmKey(key)
	}
	if a.publishing {
		return a, nil
	}
	a.notice = ""
	switch a.view().phase {
	case race.PhaseRunning:
		return a.handleTrackingKey(msg)
	case race.PhaseReview:
		return a.handleReviewKey(msg)
	default:
		return a.handleSetupKey(msg)
	}
}

func (a *App) beginInput(mode inputMode, value string) tea.Cmd {
	a.mode = mode
	a.input.Prompt = mode.prompt()
	a.input.CharLimit = 80
	if mode == inputBody {
		a.input.CharLimit = 2000
	}
	a.input.SetValue(value)
	a.input.CursorEnd()
	return a.input.Focus()
}

func (a *App) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.endInput()
		return a, nil
	case "enter":
		mode := a.mode
		value := strings.TrimSpace(a.input.Value())
		a.endInput()
		return a, a.submitInput(mode, value)
	}
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) endInput() {
	a.mode = inputNone
	a.input.Blur()
	a.input.SetValue("")
}

func (a *App) submitInput(mode inputMode, value string) tea.Cmd {
	switch mode {
	case inputGuest:
		a.addGuest(value)
	case inputRunner:
		return a.saveRunner(value)
	case inputTitle:
		a.title = value
	case inputBody:
		a.body = value
	case inputPhoto:
		a.photoPath = value
		if value != "" {
			a.statusMsg = fmt.Sprintf("Photo set to %s", filepath.Base(value))
		}
	case inputPromoteName:
		a.setPromotion(a.target, true, value)
	}
	return nil
}

func (a *App) handleConfirmKey(key string) (tea.Model, tea.Cmd) {
	action := a.confirm
	target := a.target
	a.confirm = confirmNone
	a.target = ""
	if key != "y" && key != "Y" {
		a.statusMsg = "Cancelled"
		return a, nil
	}
	switch action {
	case confirmRemove:
		a.removeParticipant(target)
	case confirmCancelRace:
		return a, a.cancelRace()
	case confirmReplaceCheckpoint:
		a.deps.Guard.Release()
		a.logWarn("Replacing the unreadable saved race")
		return a, a.startRace()
	}
	return a, nil
}

// cancelRace throws the race away, checkpoint included.
func (a *App) cancelRace() tea.Cmd {
	runID := a.view().runID
	if err := a.deps.Guard.Discard(); err != nil {
		a.fail("Cancel failed", err)
		return nil
	}
	a.journal(runID).Warn("Race cancelled")
	a.resetSetup()
	a.statusMsg = "Race cancelled"
	return a.loadRoster()
}

func (a *App) resetSetup() {
	a.selected = map[string]bool{}
	a.guests = nil
	a.cursor = 0
	a.title = ""
	a.body = ""
	a.photoPath = ""
	a.reuseRef = ""
	a.stagedFor = ""
	a.picking = false
	a.refreshRunnerItems()
}

// apply runs a session mutation through the guard and reports failures in
// the status line.
func (a *App) apply(action string, fn func(*race.Session) error) bool {
	if err := a.deps.Guard.Apply(fn); err != nil {
		a.fail(action, err)
		return false
	}
	return true
}

func (a *App) fail(action string, err error) {
	a.statusMsg = fmt.Sprintf("%s: %v", action, err)
	a.logError("%s: %v", action, err)
}

// sessionView is one consistent read of the session for a frame.
type sessionView struct {
	runID        string
	phase        race.Phase
	startedAt    time.Time
	elapsed      time.Duration
	clockRunning bool
	canEnd       bool
	pending      int
	board        []race.LiveParticipant
}

func (a *App) view() sessionView {
	var v sessionView
	a.deps.Guard.Read(func(s *race.Session) {
		v = sessionView{
			runID:        s.RunID(),
			phase:        s.Phase(),
			startedAt:    s.StartedAt(),
			elapsed:      s.Elapsed(),
			clockRunning: s.ClockRunning(),
			canEnd:       s.CanEnd(),
			pending:      s.Pending(),
			board:        race.DisplayOrder(s.Participants()),
		}
	})
	return v
}

func (a *App) current(v sessionView) (race.LiveParticipant, bool) {
	if len(v.board) == 0 {
		return race.LiveParticipant{}, false
	}
	a.cursor = clamp(a.cursor, 0, len(v.board)-1)
	return v.board[a.cursor], true
}

// follow keeps the cursor on id after the board re-sorts.
func (a *App) follow(id string) {
	for i, p := range a.view().board {
		if p.ID == id {
			a.cursor = i
			return
		}
	}
}

func (a *App) moveCursor(delta int) {
	n := len(a.view().board)
	if n == 0 {
		a.cursor = 0
		return
	}
	a.cursor = clamp(a.cursor+delta, 0, n-1)
}

func (a *App) journal(runID string) *logbook.Logbook {
	if a.deps.Logbook == nil {
		return nil
	}
	if runID == "" {
		return a.deps.Logbook
	}
	return a.deps.Logbook.ForRun(runID)
}

func (a *App) logInfo(format string, args ...any) {
	if lb := a.journal(a.view().runID); lb != nil {
		lb.Info(format, args...)
	}
}

func (a *App) logWarn(format string, args ...any) {
	if lb := a.journal(a.view().runID); lb != nil {
		lb.Warn(format, args...)
	}
}

func (a *App) logError(format string, args ...any) {
	if lb := a.journal(a.view().runID); lb != nil {
		lb.Error(format, args...)
	}
}

// View renders the current state to a string.
func (a *App) View() string {
	v := a.view()
	var content string
	switch v.phase {
	case race.PhaseRunning:
		content = a.renderTracking(v)
	case race.PhaseReview:
		content = a.renderReview(v)
	default:
		content = a.renderSetup()
	}

	sections := []string{a.renderHeader(v)}
	if a.notice != "" {
		sections = append(sections, noticeStyle.Render(a.notice))
	}
	sections = append(sections, panelStyle.Render(content))
	if prompt := a.renderPrompt(); prompt != "" {
		sections = append(sections, prompt)
	}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	sections = append(sections, footerStyle.Render(a.statusMsg))
	return strings.Join(sections, "\n")
}

func (a *App) renderHeader(v sessionView) string {
	title := headerStyle.Render("◯ LOOPTRACK")
	var parts []string
	switch v.phase {
	case race.PhaseRunning, race.PhaseReview:
		clock := race.FormatClock(v.elapsed)
		state := "paused"
		if v.clockRunning {
			state = "running"
		}
		if v.phase == race.PhaseReview {
			state = "review"
		}
		parts = append(parts, clockStyle.Render(clock), dimStyle.Render(state))
	default:
		parts = append(parts, dimStyle.Render("setup"))
	}
	if a.deps.FeedURL != "" {
		parts = append(parts, dimStyle.Render("feed "+a.deps.FeedURL))
	}
	return lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", strings.Join(parts, "  "))
}

func (a *App) renderPrompt() string {
	if a.mode != inputNone {
		return promptStyle.Render(a.input.View())
	}
	switch a.confirm {
	case confirmRemove:
		return warnStyle.Render("Remove this participant? (y/n)")
	case confirmCancelRace:
		return warnStyle.Render("Cancel the race and discard all tracking? (y/n)")
	case confirmReplaceCheckpoint:
		return warnStyle.Render("The saved race could not be read. Replace it with this new race? (y/n)")
	}
	return ""
}

func (a *App) renderLogPanel() string {
	if a.deps.Logbook == nil {
		return ""
	}
	lines, total := a.deps.Logbook.Tail(logLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.deps.Logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := logHeadStyle.Render(fmt.Sprintf("LOG · %s · %d line(s)", fileName, total))
	body := dimStyle.Render(strings.Join(lines, "\n"))
	return logBoxStyle.Render(fmt.Sprintf("%s\n%s", head, body))
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
