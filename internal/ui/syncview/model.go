// Package syncview renders live sync progress as a Bubble Tea program.
// It consumes engine events from a channel and draws one line per
// folder, with a running hunk count and a final summary.
package syncview

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/mailmirror/internal/engine"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	folderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	summaryStyle = lipgloss.NewStyle().MarginTop(1)
)

// Result carries the sync outcome into the program once the engine
// returns.
type Result struct {
	Report *engine.SyncReport
	Err    error
}

// eventMsg wraps one engine event.
type eventMsg engine.Event

// doneMsg signals that the engine returned.
type doneMsg Result

// folderProgress tracks one folder's state on screen.
type folderProgress struct {
	applied int
	failed  int
	running bool
	done    bool
}

// Model is the sync progress Bubble Tea model.
type Model struct {
	account string
	events  <-chan engine.Event
	result  <-chan Result

	spinner  spinner.Model
	progress progress.Model

	folders map[string]*folderProgress
	order   []string

	totalFolders int
	doneFolders  int

	finished bool
	outcome  Result
	width    int
}

// New creates a sync view fed by the given channels. totalFolders sizes
// the progress bar; 0 disables it.
func New(account string, totalFolders int, events <-chan engine.Event, result <-chan Result) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	pb := progress.New(progress.WithDefaultGradient())

	return Model{
		account:      account,
		events:       events,
		result:       result,
		spinner:      sp,
		progress:     pb,
		folders:      make(map[string]*folderProgress),
		totalFolders: totalFolders,
	}
}

// Init starts the spinner and the channel readers.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent(), m.waitForResult())
}

// waitForEvent returns a command that blocks on the next engine event.
func (m Model) waitForEvent() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}

// waitForResult returns a command that blocks until the engine returns.
func (m Model) waitForResult() tea.Cmd {
	result := m.result
	return func() tea.Msg {
		return doneMsg(<-result)
	}
}

// Update handles messages for the sync view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = min(msg.Width-4, 60)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil

	case eventMsg:
		m.apply(engine.Event(msg))
		return m, m.waitForEvent()

	case doneMsg:
		m.finished = true
		m.outcome = Result(msg)
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// apply folds one engine event into the screen state.
func (m *Model) apply(ev engine.Event) {
	fp, ok := m.folders[ev.Folder]
	if !ok {
		fp = &folderProgress{}
		m.folders[ev.Folder] = fp
		m.order = append(m.order, ev.Folder)
	}

	switch ev.Type {
	case engine.EventFolderStarted:
		fp.running = true
	case engine.EventFolderFinished:
		fp.running = false
		fp.done = true
		m.doneFolders++
	case engine.EventHunkApplied:
		fp.applied++
	case engine.EventHunkFailed:
		fp.failed++
	}
}

// View renders the sync view.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Syncing "+m.account) + "\n\n")

	names := append([]string(nil), m.order...)
	sort.Strings(names)
	for _, name := range names {
		fp := m.folders[name]
		b.WriteString("  " + m.folderLine(name, fp) + "\n")
	}

	if m.finished {
		b.WriteString(m.summary())
	} else {
		if m.totalFolders > 0 {
			ratio := float64(m.doneFolders) / float64(m.totalFolders)
			b.WriteString("\n  " + m.progress.ViewAs(ratio) + "\n")
		}
		b.WriteString("\n  " + m.spinner.View() + dimStyle.Render(" working...") + "\n")
	}

	return b.String()
}

// folderLine renders one folder's status line.
func (m Model) folderLine(name string, fp *folderProgress) string {
	var status string
	switch {
	case fp.running:
		status = m.spinner.View()
	case fp.done && fp.failed > 0:
		status = failStyle.Render("✗")
	case fp.done:
		status = okStyle.Render("✓")
	default:
		status = dimStyle.Render("·")
	}

	counts := fmt.Sprintf("%d applied", fp.applied)
	if fp.failed > 0 {
		counts += failStyle.Render(fmt.Sprintf(", %d failed", fp.failed))
	}
	return fmt.Sprintf("%s %s  %s", status, folderStyle.Render(name), dimStyle.Render(counts))
}

// summary renders the final report once the engine has returned.
func (m Model) summary() string {
	var lines []string

	if m.outcome.Report != nil {
		lines = append(lines, m.outcome.Report.Summary())
	}
	if m.outcome.Err != nil {
		lines = append(lines, failStyle.Render(fmt.Sprintf("sync failed: %v", m.outcome.Err)))
	} else {
		lines = append(lines, okStyle.Render("done"))
	}
	return summaryStyle.Render(strings.Join(lines, "\n")) + "\n"
}

// Outcome returns the final result after the program has quit.
func (m Model) Outcome() Result {
	return m.outcome
}
