package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// StatusCount is one status bucket in the header line.
type StatusCount struct {
	Status string
	Count  int
}

// TaskRow is one task in the recent-tasks table.
type TaskRow struct {
	ID     string
	Title  string
	Type   string
	Status string
	Age    string
	Error  string
}

// QueueSnapshot is everything the watch view shows for one refresh.
type QueueSnapshot struct {
	Taken  time.Time
	Counts []StatusCount
	Recent []TaskRow
}

// Plain renders the snapshot without styling, for --once and non-TTY use.
func (s QueueSnapshot) Plain() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Queue at %s\n", s.Taken.Format("15:04:05"))
	for _, c := range s.Counts {
		fmt.Fprintf(&sb, "  %-12s %d\n", c.Status, c.Count)
	}
	if len(s.Recent) > 0 {
		sb.WriteString("\nRecent tasks:\n")
		for _, r := range s.Recent {
			fmt.Fprintf(&sb, "  %-8s %-8s %-12s %-6s %s\n", r.ID, r.Type, r.Status, r.Age, r.Title)
		}
	}
	return sb.String()
}

// FetchFunc loads a fresh snapshot. Called off the UI goroutine.
type FetchFunc func(ctx context.Context) (QueueSnapshot, error)

// fetchTimeout bounds one snapshot load so a locked database cannot hang
// the dashboard.
const fetchTimeout = 5 * time.Second

type snapshotMsg struct {
	snap QueueSnapshot
	err  error
}

type tickMsg time.Time

// WatchModel is the bubbletea model for the live queue dashboard.
type WatchModel struct {
	fetch    FetchFunc
	interval time.Duration
	spinner  spinner.Model
	styles   Styles

	snap    QueueSnapshot
	loaded  bool
	loadErr error
	width   int
}

// NewWatchModel builds the dashboard model. Interval zero means 2s.
func NewWatchModel(fetch FetchFunc, interval time.Duration) WatchModel {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	styles := DefaultStyles()
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner
	return WatchModel{
		fetch:    fetch,
		interval: interval,
		spinner:  sp,
		styles:   styles,
	}
}

// Init starts the spinner, the first fetch, and the refresh timer.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.refresh(), m.tick())
}

// Update handles keys, refresh ticks, and snapshot results.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.refresh()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case snapshotMsg:
		m.loaded = true
		m.loadErr = msg.err
		if msg.err == nil {
			m.snap = msg.snap
		}

	case tickMsg:
		return m, tea.Batch(m.refresh(), m.tick())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View renders the dashboard: title, per-status counts, recent tasks,
// help line.
func (m WatchModel) View() string {
	var sb strings.Builder

	sb.WriteString(m.spinner.View())
	sb.WriteString(m.styles.Title.Render(" drover queue"))
	if m.loaded {
		sb.WriteString(m.styles.Muted.Render(fmt.Sprintf("  refreshed %s", m.snap.Taken.Format("15:04:05"))))
	}
	sb.WriteString("\n\n")

	if m.loadErr != nil {
		sb.WriteString(m.styles.Error.Render(fmt.Sprintf("  load failed: %v", m.loadErr)))
		sb.WriteString("\n\n")
	}

	if m.loaded && m.loadErr == nil {
		var counts []string
		for _, c := range m.snap.Counts {
			style := m.styles.statusStyle(c.Status)
			counts = append(counts, style.Render(fmt.Sprintf("%s %d", c.Status, c.Count)))
		}
		sb.WriteString("  " + strings.Join(counts, m.styles.Muted.Render("  │  ")))
		sb.WriteString("\n\n")

		tbl := &table{
			headers: []string{"ID", "TYPE", "STATUS", "AGE", "TITLE"},
			rowStyle: func(row []string) lipgloss.Style {
				if len(row) > 2 {
					return m.styles.statusStyle(row[2])
				}
				return m.styles.Body
			},
		}
		for _, r := range m.snap.Recent {
			tbl.addRow(r.ID, r.Type, r.Status, r.Age, truncate(r.Title, m.titleWidth()))
		}
		sb.WriteString(tbl.view(m.styles))
	} else if !m.loaded {
		sb.WriteString(m.styles.Muted.Render("  loading..."))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	sb.WriteString(m.styles.Help.Render("  r refresh · q quit"))
	sb.WriteString("\n")
	return sb.String()
}

// refresh loads a snapshot asynchronously.
func (m WatchModel) refresh() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		snap, err := fetch(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

// tick schedules the next periodic refresh.
func (m WatchModel) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// titleWidth leaves room for the fixed columns in the recent-tasks table.
func (m WatchModel) titleWidth() int {
	if m.width <= 0 {
		return 48
	}
	w := m.width - 44
	if w < 16 {
		return 16
	}
	return w
}

func truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
