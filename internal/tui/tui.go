// Package tui implements the live status dashboard (`conveyor status`)
// over tickets, the merge queue, and live worktrees. It has no direct
// teacher analogue — it replaces the teacher's plain-text `status
// --follow` polling loop (internal/cli/status.go) with a richer view over
// the same underlying data, modeled on the bubbletea dashboards elsewhere
// in the example pack.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/conveyor-forge/conveyor/internal/mergequeue"
	"github.com/conveyor-forge/conveyor/internal/tracker"
	"github.com/conveyor-forge/conveyor/internal/worktree"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	pausedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Snapshot is the data the dashboard renders. It is plain data so the
// caller (internal/cli) can assemble it from the dispatcher/queue/worktree
// managers without the tui package depending on them beyond these types.
type Snapshot struct {
	Tickets      []tracker.Summary
	Queue        []mergequeue.Entry
	QueuePaused  bool
	PauseReason  string
	Worktrees    []worktree.Worktree
	AvailSlots   int
	MaxSlots     int
	RefreshedAt  time.Time
}

// RefreshFunc is polled on an interval to obtain a new Snapshot.
type RefreshFunc func() Snapshot

type tickMsg time.Time

// Model is the bubbletea model backing `conveyor status`.
type Model struct {
	refresh  RefreshFunc
	interval time.Duration
	snap     Snapshot
	table    table.Model
}

// NewModel builds a dashboard model, polling refresh every interval.
func NewModel(refresh RefreshFunc, interval time.Duration) Model {
	columns := []table.Column{
		{Title: "#", Width: 6},
		{Title: "Title", Width: 30},
		{Title: "Votes", Width: 6},
		{Title: "Labels", Width: 30},
	}
	t := table.New(table.WithColumns(columns), table.WithFocused(false), table.WithHeight(10))
	return Model{refresh: refresh, interval: interval, table: t}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.tickCmd(), m.loadCmd())
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

type snapshotMsg Snapshot

func (m Model) loadCmd() tea.Cmd {
	return func() tea.Msg { return snapshotMsg(m.refresh()) }
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tickMsg:
		return m, tea.Batch(m.tickCmd(), m.loadCmd())
	case snapshotMsg:
		m.snap = Snapshot(msg)
		rows := make([]table.Row, 0, len(m.snap.Tickets))
		for _, t := range m.snap.Tickets {
			rows = append(rows, table.Row{
				fmt.Sprintf("#%d", t.Number),
				t.Title,
				fmt.Sprintf("%d", t.Votes),
				strings.Join(t.Labels, ","),
			})
		}
		m.table.SetRows(rows)
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  (slots %d/%d, refreshed %s)\n\n",
		headerStyle.Render("conveyor status"),
		m.snap.MaxSlots-m.snap.AvailSlots, m.snap.MaxSlots,
		m.snap.RefreshedAt.Format(time.Kitchen))

	b.WriteString(m.table.View())
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("merge queue"))
	b.WriteString("\n")
	if m.snap.QueuePaused {
		fmt.Fprintf(&b, "%s %s\n", pausedStyle.Render("PAUSED:"), m.snap.PauseReason)
	}
	if len(m.snap.Queue) == 0 {
		b.WriteString(dimStyle.Render("  (empty)\n"))
	}
	for i, e := range m.snap.Queue {
		fmt.Fprintf(&b, "  %d. issue #%d (%s) attempts=%d\n", i+1, e.IssueNumber, e.BranchName, e.Attempts)
	}

	b.WriteString("\n")
	b.WriteString(headerStyle.Render("worktrees"))
	b.WriteString("\n")
	if len(m.snap.Worktrees) == 0 {
		b.WriteString(dimStyle.Render("  (none)\n"))
	}
	for _, w := range m.snap.Worktrees {
		fmt.Fprintf(&b, "  issue #%d (%s) session=%s\n", w.IssueNumber, w.BranchName, w.SessionID)
	}

	b.WriteString("\n")
	b.WriteString(dimStyle.Render("q to quit"))
	return b.String()
}

// RenderTicketBody renders a ticket's markdown body for terminal display,
// used by `conveyor ticket show`.
func RenderTicketBody(body string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return r.Render(body)
}
