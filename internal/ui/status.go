package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/samber/lo"
	"github.com/spinlog/spinlog/internal/models"
	"github.com/spinlog/spinlog/internal/repositories"
)

const refreshInterval = 5 * time.Second

// keyMap defines the key bindings for the status view.
type keyMap struct {
	up      key.Binding
	down    key.Binding
	refresh key.Binding
	quit    key.Binding
}

func newKeyMap() keyMap {
	return keyMap{
		up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "up"),
		),
		down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "down"),
		),
		refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c"),
			key.WithHelp("q", "quit"),
		),
	}
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.refresh, k.quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.up, k.down},
		{k.refresh, k.quit},
	}
}

// snapshot is one refresh worth of data.
type snapshot struct {
	users       []*models.User
	checkpoints map[string]*models.SyncCheckpoint
	jobs        []*models.JobRun
	err         error
}

type refreshMsg snapshot

type tickMsg time.Time

// Model is the bubbletea model for the worker status view.
type Model struct {
	users       *repositories.UserRepository
	checkpoints *repositories.CheckpointRepository
	jobs        *repositories.JobRepository

	table   table.Model
	help    help.Model
	keys    keyMap
	current snapshot
	width   int
}

// NewModel creates the status view over the given repositories.
func NewModel(users *repositories.UserRepository, checkpoints *repositories.CheckpointRepository, jobs *repositories.JobRepository) Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "User", Width: 24},
			{Title: "Status", Width: 8},
			{Title: "Backfill", Width: 10},
			{Title: "Last Poll", Width: 20},
			{Title: "Cursor", Width: 20},
			{Title: "Error", Width: 30},
		}),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	ts := table.DefaultStyles()
	ts.Header = ts.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	ts.Selected = ts.Selected.Foreground(lipgloss.Color("#1DB954")).Bold(true)
	t.SetStyles(ts)

	return Model{
		users:       users,
		checkpoints: checkpoints,
		jobs:        jobs,
		table:       t,
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refresh, tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// refresh loads users, checkpoints, and the recent ledger.
func (m Model) refresh() tea.Msg {
	snap := snapshot{checkpoints: make(map[string]*models.SyncCheckpoint)}

	users, err := m.users.List()
	if err != nil {
		snap.err = err
		return refreshMsg(snap)
	}
	snap.users = users

	cps, err := m.checkpoints.List()
	if err != nil {
		snap.err = err
		return refreshMsg(snap)
	}
	for _, cp := range cps {
		snap.checkpoints[cp.UserID] = cp
	}

	if snap.jobs, err = m.jobs.Latest("", 10); err != nil {
		snap.err = err
	}
	return refreshMsg(snap)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.refresh):
			return m, m.refresh
		}
	case refreshMsg:
		m.current = snapshot(msg)
		m.table.SetRows(m.rows())
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.refresh, tick())
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) rows() []table.Row {
	return lo.Map(m.current.users, func(user *models.User, _ int) table.Row {
		cp := m.current.checkpoints[user.ID]
		if cp == nil {
			return table.Row{user.SpotifyUserID, "-", "-", "-", "-", ""}
		}
		return table.Row{
			user.SpotifyUserID,
			string(cp.Status),
			backfillState(cp),
			stamp(cp.LastPollCompletedAt),
			stamp(cp.LastPollLatestPlayedAt),
			cp.ErrorMessage,
		}
	})
}

func backfillState(cp *models.SyncCheckpoint) string {
	switch {
	case cp.InitialSyncCompletedAt != nil:
		return "done"
	case cp.InitialSyncStartedAt != nil:
		return "running"
	default:
		return "pending"
	}
}

func stamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

// View implements tea.Model.
func (m Model) View() string {
	out := styles.title.Render("spinlog worker status") + "\n"
	out += m.table.View() + "\n\n"
	out += m.ledgerView()
	out += "\n" + styles.help.Render(m.help.View(m.keys))
	if m.current.err != nil {
		out += "\n" + styles.err.Render(fmt.Sprintf("refresh failed: %v", m.current.err))
	}
	return out
}

// ledgerView renders the most recent job runs under the table.
func (m Model) ledgerView() string {
	if len(m.current.jobs) == 0 {
		return styles.help.Render("no job runs recorded yet")
	}

	out := "Recent jobs:\n"
	for _, job := range m.current.jobs {
		line := fmt.Sprintf("  %s  %-12s fetched=%d inserted=%d skipped=%d",
			job.StartedAt.UTC().Format("15:04:05"), job.JobType, job.Fetched, job.Inserted, job.Skipped)
		switch job.Status {
		case models.JobError:
			out += styles.err.Render(line+"  "+job.ErrorMessage) + "\n"
		case models.JobSuccess:
			out += styles.ok.Render(line) + "\n"
		default:
			out += styles.warn.Render(line) + "\n"
		}
	}
	return out
}

// Run starts the status view and blocks until quit.
func Run(users *repositories.UserRepository, checkpoints *repositories.CheckpointRepository, jobs *repositories.JobRepository) error {
	_, err := tea.NewProgram(NewModel(users, checkpoints, jobs), tea.WithAltScreen()).Run()
	return err
}
