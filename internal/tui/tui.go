// Package tui provides a Bubble Tea terminal user interface for offline-regions.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/handiism/offline-regions/internal/app"
	"github.com/handiism/offline-regions/internal/catalog"
	"github.com/handiism/offline-regions/internal/config"
	"github.com/handiism/offline-regions/internal/download"
	"github.com/handiism/offline-regions/internal/model"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4ECDC4")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4ECDC4")).
			Padding(1, 2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8B500"))
)

// State represents the current UI state.
type State int

const (
	StateInput State = iota
	StateDownloading
	StateComplete
	StateError
	StateRegions
)

// Orchestrator is the part of download.Orchestrator the UI drives.
type Orchestrator interface {
	IsRunning() bool
	Subscribe() *download.Subscription
	Execute(ctx context.Context, name string, def model.Definition)
}

// Catalog lists stored regions.
type Catalog interface {
	Entries(ctx context.Context) ([]catalog.Entry, error)
}

// Deleter removes a stored region.
type Deleter interface {
	Execute(ctx context.Context, region *model.Region) error
}

// Deps are the components the UI talks to.
type Deps struct {
	Orchestrator Orchestrator
	Catalog      Catalog
	Deleter      Deleter
	Settings     *config.Settings
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	state     State
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model
	deps      Deps
	def       model.Definition

	// sub lives for the whole session, so only the first event is a
	// replay of an earlier download.
	sub *download.Subscription

	// Download context
	ctx    context.Context
	cancel context.CancelFunc

	// Download progress
	regionName string
	percent    int
	warning    string
	err        error

	// Regions view
	entries []catalog.Entry
	cursor  int
	notice  string

	width  int
	height int
}

// NewModel creates a new TUI model. If a download is already running the
// model attaches to it instead of offering a new one.
func NewModel(deps Deps) Model {
	ti := textinput.New()
	ti.Placeholder = "Region name"
	ti.Focus()
	ti.CharLimit = 120
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#4ECDC4"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 50

	ctx, cancel := context.WithCancel(context.Background())

	m := Model{
		state:     StateInput,
		textInput: ti,
		spinner:   sp,
		progress:  prog,
		deps:      deps,
		def:       deps.Settings.DefaultDefinition(),
		sub:       deps.Orchestrator.Subscribe(),
		ctx:       ctx,
		cancel:    cancel,
	}
	if deps.Orchestrator.IsRunning() {
		m.state = StateDownloading
	}
	return m
}

// State returns the current UI state.
func (m Model) State() State {
	return m.state
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitForEvent(m.sub))
}

// Message types
type (
	// EventMsg carries one event from the download stream.
	EventMsg struct {
		Event model.DownloadEvent
	}

	// RegionsMsg is sent when the region list has loaded.
	RegionsMsg struct {
		Entries []catalog.Entry
		Err     error
	}

	// DeletedMsg is sent when a delete attempt finishes.
	DeletedMsg struct {
		Name string
		Err  error
	}
)

// waitForEvent blocks on the next stream event.
func waitForEvent(sub *download.Subscription) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-sub.Events()
		if !ok {
			return nil
		}
		return EventMsg{Event: ev}
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = msg.Width - 20
		if m.progress.Width > 80 {
			m.progress.Width = 80
		}
		if m.progress.Width < 20 {
			m.progress.Width = 20
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			m.cancel()
			m.sub.Close()
			return m, tea.Quit

		case "esc":
			switch m.state {
			case StateInput:
				m.sub.Close()
				return m, tea.Quit
			case StateDownloading:
				m.cancel()
				m.state = StateError
				m.err = fmt.Errorf("cancelled by user, tiles fetched so far stay cached")
			case StateRegions:
				m.state = StateInput
				m.textInput.Focus()
			}
			return m, nil

		case "enter":
			if m.state == StateInput && strings.TrimSpace(m.textInput.Value()) != "" {
				m.regionName = strings.TrimSpace(m.textInput.Value())
				m.percent = 0
				m.warning = ""
				m.state = StateDownloading
				m.deps.Orchestrator.Execute(m.ctx, m.regionName, m.def)
				return m, tea.Batch(m.spinner.Tick, m.progress.SetPercent(0))
			}

		case "tab":
			switch m.state {
			case StateInput:
				m.state = StateRegions
				m.textInput.Blur()
				m.notice = ""
				return m, m.loadRegions()
			case StateRegions:
				m.state = StateInput
				m.textInput.Focus()
				return m, nil
			}

		case "up", "k":
			if m.state == StateRegions && m.cursor > 0 {
				m.cursor--
			}

		case "down", "j":
			if m.state == StateRegions && m.cursor < len(m.entries)-1 {
				m.cursor++
			}

		case "x":
			if m.state == StateRegions && m.cursor < len(m.entries) {
				return m, m.deleteRegion(m.entries[m.cursor])
			}

		case "q":
			if m.state == StateComplete || m.state == StateError || m.state == StateRegions {
				m.sub.Close()
				return m, tea.Quit
			}

		case "r":
			if m.state == StateComplete || m.state == StateError {
				// Reset for new download
				m.state = StateInput
				m.regionName = ""
				m.percent = 0
				m.warning = ""
				m.err = nil
				m.ctx, m.cancel = context.WithCancel(context.Background())
				m.textInput.SetValue("")
				m.textInput.Focus()
				return m, nil
			}
		}

	case EventMsg:
		cmds = append(cmds, m.handleEvent(msg.Event), waitForEvent(m.sub))

	case RegionsMsg:
		m.entries = msg.Entries
		if msg.Err != nil {
			m.notice = errorStyle.Render("✗ " + msg.Err.Error())
		}
		if m.cursor >= len(m.entries) {
			m.cursor = max(0, len(m.entries)-1)
		}

	case DeletedMsg:
		if msg.Err != nil {
			m.notice = errorStyle.Render("✗ " + msg.Err.Error())
		} else {
			m.notice = successStyle.Render(fmt.Sprintf("✓ Deleted %s", msg.Name))
		}
		cmds = append(cmds, m.loadRegions())

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		cmds = append(cmds, cmd)
	}

	// Update text input
	if m.state == StateInput {
		var cmd tea.Cmd
		m.textInput, cmd = m.textInput.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// handleEvent applies a stream event. Terminal events only count while a
// download is on screen; outside of it they are replays of an earlier run.
func (m *Model) handleEvent(ev model.DownloadEvent) tea.Cmd {
	switch ev := ev.(type) {
	case model.Downloading:
		if m.state != StateDownloading {
			return nil
		}
		m.regionName = ev.RegionName
		m.percent = ev.Percent
		return m.progress.SetPercent(float64(ev.Percent) / 100)

	case model.TileCountLimitExceeded:
		if m.state == StateDownloading {
			m.warning = fmt.Sprintf("Tile count limit of %d exceeded, the region will be incomplete", ev.Limit)
		}

	case model.Done:
		if m.state == StateDownloading {
			m.regionName = ev.RegionName
			m.percent = 100
			m.state = StateComplete
		}

	case model.Failed:
		if m.state == StateDownloading {
			m.regionName = ev.RegionName
			m.err = ev.Cause
			m.state = StateError
		}
	}
	return nil
}

func (m Model) loadRegions() tea.Cmd {
	cat := m.deps.Catalog
	return func() tea.Msg {
		entries, err := cat.Entries(context.Background())
		return RegionsMsg{Entries: entries, Err: err}
	}
}

func (m Model) deleteRegion(e catalog.Entry) tea.Cmd {
	deleter := m.deps.Deleter
	return func() tea.Msg {
		err := deleter.Execute(context.Background(), e.Region)
		return DeletedMsg{Name: e.Name, Err: err}
	}
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	// Header
	b.WriteString(titleStyle.Render("🗺️  Offline Regions"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render("Cache map tiles for offline use"))
	b.WriteString("\n\n")

	switch m.state {
	case StateInput:
		b.WriteString(m.viewInput())
	case StateDownloading:
		b.WriteString(m.viewDownloading())
	case StateComplete:
		b.WriteString(m.viewComplete())
	case StateError:
		b.WriteString(m.viewError())
	case StateRegions:
		b.WriteString(m.viewRegions())
	}

	// Footer
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.getHelpText()))

	return b.String()
}

func (m Model) viewInput() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Name the region to download:"))
	b.WriteString("\n\n")
	b.WriteString(m.textInput.View())
	b.WriteString("\n\n")

	d := m.def
	b.WriteString(infoStyle.Render("Region:"))
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("  N %.4f  E %.4f  S %.4f  W %.4f\n", d.North, d.East, d.South, d.West))
	b.WriteString(fmt.Sprintf("  Zooms %g..%g at %gx, %d tiles\n", d.MinZoom, d.MaxZoom, d.PixelRatio, d.TileCount()))
	if limit := m.deps.Settings.TileLimit; limit > 0 && d.TileCount() > limit {
		b.WriteString(warningStyle.Render(fmt.Sprintf("  ! only the first %d tiles will be cached", limit)))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(fmt.Sprintf("Store: %s", m.deps.Settings.StoreURL)))
	b.WriteString("\n")

	return b.String()
}

func (m Model) viewDownloading() string {
	var b strings.Builder

	b.WriteString(m.spinner.View())
	b.WriteString(" ")
	if m.regionName != "" {
		b.WriteString(subtitleStyle.Render(fmt.Sprintf("Downloading %s", m.regionName)))
	} else {
		b.WriteString(subtitleStyle.Render("Downloading"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.progress.View())
	b.WriteString("\n")
	b.WriteString(infoStyle.Render(fmt.Sprintf("%d%%", m.percent)))
	b.WriteString("\n")

	if m.warning != "" {
		b.WriteString("\n")
		b.WriteString(warningStyle.Render("! " + m.warning))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) viewComplete() string {
	box := boxStyle.Render(fmt.Sprintf(
		"✨ Download Complete!\n\n"+
			"Region: %s\n"+
			"Tiles: %d",
		m.regionName,
		tileBudget(m.deps.Settings.TileLimit, m.def.TileCount()),
	))
	return box
}

func tileBudget(limit, total int64) int64 {
	if limit > 0 && total > limit {
		return limit
	}
	return total
}

func (m Model) viewError() string {
	var b strings.Builder

	b.WriteString(errorStyle.Render("❌ Download failed:"))
	b.WriteString("\n\n")
	if m.err != nil {
		b.WriteString(fmt.Sprintf("  %s", m.err.Error()))
	}
	if m.warning != "" {
		b.WriteString("\n\n")
		b.WriteString(warningStyle.Render("! " + m.warning))
	}

	return b.String()
}

func (m Model) viewRegions() string {
	var b strings.Builder

	b.WriteString(subtitleStyle.Render("Offline regions:"))
	b.WriteString("\n\n")

	if len(m.entries) == 0 {
		b.WriteString(dimStyle.Render("  none yet"))
		b.WriteString("\n")
	}
	for i, e := range m.entries {
		line := fmt.Sprintf("%s (zooms %g..%g)", e.Name, e.Region.Definition.MinZoom, e.Region.Definition.MaxZoom)
		if i == m.cursor {
			b.WriteString(selectedStyle.Render("› " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(m.notice)
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) getHelpText() string {
	switch m.state {
	case StateInput:
		return "enter: download • tab: regions • esc: quit"
	case StateDownloading:
		return "esc: stop following"
	case StateComplete, StateError:
		return "r: new download • q: quit"
	case StateRegions:
		return "↑/↓: select • x: delete • tab/esc: back • q: quit"
	}
	return ""
}

// Run starts the TUI application.
func Run(a *app.App) error {
	m := NewModel(Deps{
		Orchestrator: a.Orchestrator,
		Catalog:      a.Catalog,
		Deleter:      a.Deleter,
		Settings:     a.Settings,
	})
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
