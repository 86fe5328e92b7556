// Package watch is the live terminal dashboard: a bubbletea program that
// renders ledger progress and refreshes on file change events plus a
// steady tick.
package watch

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"

	"github.com/bitrange/rangepool/internal/keyspace"
	"github.com/bitrange/rangepool/internal/ledger"
	"github.com/bitrange/rangepool/internal/scheduler"
)

const refreshInterval = 2 * time.Second

type tickMsg time.Time

type ledgerChangedMsg struct{}

type snapshotMsg struct {
	records         []ledger.Record
	coverage        ledger.Coverage
	recommendations []string
	err             error
}

// Model is the dashboard state. Methods follow the bubbletea contract:
// value receivers returning the updated model.
type Model struct {
	dataDir string
	watcher *fsnotify.Watcher
	spinner spinner.Model

	records         []ledger.Record
	coverage        ledger.Coverage
	recommendations []string
	lastRefresh     time.Time
	loadErr         error
	width           int
}

// NewModel creates a dashboard model over the data directory. The
// fsnotify watcher is optional: without it the dashboard still refreshes
// on the tick.
func NewModel(dataDir string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = mutedStyle

	m := Model{
		dataDir: dataDir,
		spinner: sp,
		width:   80,
	}

	// Watch the directory rather than the file: the ledger is replaced by
	// rename, which drops a file-level watch.
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(dataDir); err == nil {
			m.watcher = w
		} else {
			w.Close()
		}
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick, tick(), m.loadSnapshot()}
	if m.watcher != nil {
		cmds = append(cmds, waitForChange(m.watcher))
	}
	return tea.Batch(cmds...)
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// waitForChange blocks on the watcher until the ledger file is written.
func waitForChange(w *fsnotify.Watcher) tea.Cmd {
	return func() tea.Msg {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return nil
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if filepath.Base(ev.Name) != ledger.FileName {
					continue
				}
				return ledgerChangedMsg{}
			case _, ok := <-w.Errors:
				if !ok {
					return nil
				}
			}
		}
	}
}

// loadSnapshot reads the ledger off the UI goroutine.
func (m Model) loadSnapshot() tea.Cmd {
	dataDir := m.dataDir
	return func() tea.Msg {
		l, err := ledger.Load(dataDir)
		if err != nil {
			return snapshotMsg{err: err}
		}
		return snapshotMsg{
			records:         l.Snapshot(),
			coverage:        l.AggregateCoverage(),
			recommendations: scheduler.New(l).Recommendations(),
		}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.watcher != nil {
				m.watcher.Close()
			}
			return m, tea.Quit
		case "r":
			return m, m.loadSnapshot()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, tea.Batch(tick(), m.loadSnapshot())

	case ledgerChangedMsg:
		cmds := []tea.Cmd{m.loadSnapshot()}
		if m.watcher != nil {
			cmds = append(cmds, waitForChange(m.watcher))
		}
		return m, tea.Batch(cmds...)

	case snapshotMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.records = msg.records
			m.coverage = msg.coverage
			m.recommendations = msg.recommendations
			m.lastRefresh = time.Now()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("rangepool watch"))
	b.WriteString("\n")

	if m.loadErr != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("ledger unavailable: %v", m.loadErr)))
		b.WriteString("\n")
		b.WriteString(helpStyle.Render("r refresh · q quit"))
		return b.String()
	}

	if m.lastRefresh.IsZero() {
		b.WriteString(m.spinner.View())
		b.WriteString(mutedStyle.Render(" loading ledger..."))
		return b.String()
	}

	var rows []string
	for _, rec := range m.records {
		if rec.IsSuperseded() {
			continue
		}
		rows = append(rows, m.renderRange(rec))
	}
	b.WriteString(boxStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Coverage "))
	b.WriteString(renderBar(m.coverage.PercentComplete, 40))
	b.WriteString(fmt.Sprintf(" %s%%", keyspace.FormatPercent(m.coverage.PercentComplete)))
	b.WriteString("\n")

	for _, rec := range m.recommendations {
		b.WriteString(mutedStyle.Render("• " + rec))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render(fmt.Sprintf("%s refreshed %s · r refresh · q quit",
		m.spinner.View(), m.lastRefresh.Format("15:04:05"))))
	return b.String()
}

func (m Model) renderRange(rec ledger.Record) string {
	status := rec.Range.Status.String()
	line := fmt.Sprintf("%-14s %s %6s%%  prio %3d",
		rec.RangeID(),
		statusStyle(status).Render(fmt.Sprintf("%-9s", status)),
		keyspace.FormatPercent(rec.PercentComplete),
		rec.Range.Priority)
	line += "  " + renderBar(rec.PercentComplete, 20)
	if rec.SearchRate > 0 {
		line += mutedStyle.Render(fmt.Sprintf("  %.2e keys/s", rec.SearchRate))
	}
	return line
}

// renderBar draws a fixed-width progress bar.
func renderBar(pct float64, width int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := int(pct / 100 * float64(width))
	return barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", width-filled))
}

// Run starts the dashboard and blocks until the user quits.
func Run(dataDir string) error {
	p := tea.NewProgram(NewModel(dataDir), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
