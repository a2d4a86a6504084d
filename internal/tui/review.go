package tui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/looptrack/internal/contentstore"
	"github.com/kingrea/looptrack/internal/publish"
	"github.com/kingrea/looptrack/internal/race"
)

func (a *App) handleReviewKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	v := a.view()
	p, ok := a.current(v)
	if a.clearPending {
		return a.handleClearPendingKey(msg)
	}
	switch msg.String() {
	case "q":
		return a, tea.Quit
	case "up", "k":
		a.moveCursor(-1)
	case "down", "j":
		a.moveCursor(1)
	case "p", " ":
		if ok {
			a.setPromotion(p.ID, !p.Promote, p.PromoteName)
		}
	case "n":
		if ok && p.Guest {
			a.target = p.ID
			return a, a.beginInput(inputPromoteName, publish.PromotedName(p))
		}
	case "t":
		return a, a.beginInput(inputTitle, a.title)
	case "r":
		return a, a.beginInput(inputBody, a.body)
	case "o":
		return a, a.beginInput(inputPhoto, a.photoPath)
	case "b":
		if a.apply("Back to tracking failed", func(s *race.Session) error { return s.BackToTracking() }) {
			a.logInfo("Back to tracking; clock stays paused")
			a.statusMsg = "Back to tracking · clock paused"
		}
	case "enter":
		return a, a.publish(v)
	case "ctrl+x":
		a.confirm = confirmCancelRace
	}
	return a, nil
}

func (a *App) setPromotion(id string, promote bool, name string) {
	if id == "" {
		return
	}
	if !a.mutate(id, "Promotion failed", func(s *race.Session) error { return s.SetPromotion(id, promote, name) }) {
		return
	}
	var label string
	a.deps.Guard.Read(func(s *race.Session) {
		if p, ok := s.Participant(id); ok {
			label = publish.PromotedName(p)
		}
	})
	if promote {
		a.statusMsg = fmt.Sprintf("%s will join the roster on publish", label)
	} else {
		a.statusMsg = fmt.Sprintf("%s stays a guest", label)
	}
}

// raceDay is the calendar day the race is published under.
func (a *App) raceDay(v sessionView) time.Time {
	if !v.startedAt.IsZero() {
		return v.startedAt
	}
	return a.now()
}

// loadStaged looks for a record already published for the race day so a
// re-publish can keep its photo.
func (a *App) loadStaged() tea.Cmd {
	if a.deps.History == nil {
		return nil
	}
	date := publish.DateKey(a.raceDay(a.view()))
	ctx := a.ctx
	return func() tea.Msg {
		record, err := a.deps.History.StagedRun(ctx, date)
		return stagedRecordMsg{date: date, record: record, err: err}
	}
}

func (a *App) handleStaged(msg stagedRecordMsg) {
	if msg.err != nil {
		if !errors.Is(msg.err, contentstore.ErrNotFound) {
			a.logWarn("Could not read the record for %s: %v", msg.date, msg.err)
		}
		return
	}
	a.stagedFor = msg.date
	a.reuseRef = strings.TrimSpace(msg.record.MainPhoto)
	if a.title == "" {
		a.title = msg.record.Title
	}
	if a.body == "" {
		a.body = msg.record.Body
	}
	a.statusMsg = fmt.Sprintf("%s was published before · publishing again replaces it", msg.date)
}

func (a *App) publish(v sessionView) tea.Cmd {
	req := publish.Request{
		Date:  a.raceDay(v),
		Title: a.title,
		Body:  a.body,
	}
	a.deps.Guard.Read(func(s *race.Session) {
		req.Participants = s.Participants()
	})
	if a.photoPath != "" {
		data, err := a.readFile(a.photoPath)
		if err != nil {
			a.fail("Reading photo failed", err)
			return nil
		}
		req.Photo = data
	} else {
		req.PhotoRef = a.reuseRef
	}
	a.publishing = true
	a.statusMsg = fmt.Sprintf("Publishing %s...", publish.DateKey(req.Date))
	ctx := a.ctx
	return func() tea.Msg {
		res, err := a.deps.Publisher.Publish(ctx, req)
		return publishDoneMsg{result: res, err: err}
	}
}

func (a *App) handlePublished(msg publishDoneMsg) (tea.Model, tea.Cmd) {
	a.publishing = false
	if msg.err != nil {
		var verr *publish.ValidationError
		if errors.As(msg.err, &verr) {
			a.statusMsg = fmt.Sprintf("Cannot publish: %v", msg.err)
			return a, nil
		}
		a.fail("Publish failed, nothing was changed; press enter to retry", msg.err)
		return a, nil
	}
	res := msg.result
	runID := a.view().runID
	verb := "Published"
	if res.Republished {
		verb = "Re-published"
	}
	journal := a.journal(runID)
	if journal != nil {
		journal.Info("%s %s · commit %s · %d file(s)", verb, res.Record.Date, shortSHA(res.Commit), len(res.Paths))
		for _, profile := range res.NewProfiles {
			journal.Info("New runner %s (%s)", profile.Name, profile.ID)
		}
	}
	if err := a.deps.Guard.Discard(); err != nil {
		a.clearPending = true
		a.fail(fmt.Sprintf("%s · commit %s, but the saved race could not be cleared; press enter to retry", verb, shortSHA(res.Commit)), err)
		return a, nil
	}
	a.resetSetup()
	a.statusMsg = fmt.Sprintf("%s · commit %s", verb, shortSHA(res.Commit))
	return a, a.loadRoster()
}

// handleClearPendingKey only allows retrying the checkpoint removal after a
// publish went through. Quitting now would bring the published race back.
func (a *App) handleClearPendingKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if err := a.deps.Guard.Discard(); err != nil {
			a.fail("Clearing the published race failed; press enter to retry", err)
			return a, nil
		}
		a.clearPending = false
		a.resetSetup()
		a.statusMsg = "Published race cleared"
		return a, a.loadRoster()
	case "q":
		a.statusMsg = "The published race is still saved; press enter to clear it before quitting"
	}
	return a, nil
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func (a *App) renderReview(v sessionView) string {
	rows := []string{titleStyle.Render(fmt.Sprintf("Review · %s · finished in %s", publish.DateKey(a.raceDay(v)), race.FormatClock(v.elapsed)))}
	a.current(v)
	for i, p := range v.board {
		line := a.renderRow(p, v, i == a.cursor)
		if p.Guest {
			if p.Promote {
				line += dimStyle.Render(fmt.Sprintf("  → new runner %q", publish.PromotedName(p)))
			} else {
				line += dimStyle.Render("  → guest")
			}
		}
		rows = append(rows, line)
	}

	title := a.title
	if title == "" {
		title = dimStyle.Render("(none)")
	}
	report := a.body
	if report == "" {
		report = dimStyle.Render("(none)")
	} else {
		report = truncate(report, 60)
	}
	photo := dimStyle.Render("(none, required)")
	switch {
	case a.photoPath != "":
		photo = filepath.Base(a.photoPath)
	case a.reuseRef != "":
		photo = "keep " + a.reuseRef
	}
	rows = append(rows, "", "Title: "+title, "Report: "+report, "Photo: "+photo)
	if a.publishing {
		rows = append(rows, noticeStyle.Render("Publishing..."))
	}
	if a.clearPending {
		rows = append(rows, warnStyle.Render("Published. The saved race still needs clearing: enter retry"))
		return strings.Join(rows, "\n")
	}
	rows = append(rows, hintStyle.Render("p promote guest · n profile name · t title · r report · o photo · enter publish · b back to tracking · ctrl+x cancel"))
	return strings.Join(rows, "\n")
}
