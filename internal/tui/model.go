// Package tui is the interactive terminal front end. It polls the load
// controller on a timer, renders a gauge while a capture streams in, and
// then presents the flow table with filtering and per-flow packet detail.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"flowlens/internal/core/model"
	"flowlens/internal/loader"
)

var (
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#575653")) // Warm gray

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFCF0")). // Paper
			Background(lipgloss.Color("#205EA6")). // Blue
			Padding(0, 1)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#4385BE")). // Light blue
				Bold(true).
				Border(lipgloss.NormalBorder(), false, false, true, false).
				BorderForeground(lipgloss.Color("#575653")). // Warm gray
				Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4385BE")). // Light blue
			Bold(true)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#878580")). // Dimmed gray
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(lipgloss.Color("#575653")). // Warm gray
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#D14D41")). // Soft red
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#878580")) // Dimmed gray

	gaugeBoxStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#4385BE")). // Light blue
			Padding(1, 2)
)

type modelState int

const (
	stateLoading modelState = iota
	stateError
	stateList
	stateDetail
)

type focusState int

const (
	focusPackets focusState = iota
	focusHex
)

// Options configure one interactive session.
type Options struct {
	Path        string
	Refresh     time.Duration
	PreferNames bool
	Version     string
}

type MainModel struct {
	state modelState
	ctl   *loader.Controller

	path        string
	refresh     time.Duration
	preferNames bool
	version     string

	gauge  progress.Model
	pct    float64
	errMsg string

	result   *loader.Result
	flows    []*model.Flow
	filtered []*model.Flow

	table table.Model
	input textinput.Model

	selected    *model.Flow
	packetTable table.Model
	hexView     viewport.Model
	detailFocus focusState

	width    int
	height   int
	quitting bool
}

func InitialModel(opts Options) MainModel {
	if opts.Refresh <= 0 {
		opts.Refresh = 100 * time.Millisecond
	}

	columns := []table.Column{
		{Title: "Timestamp", Width: 14},
		{Title: "Source", Width: 24},
		{Title: "Destination", Width: 24},
		{Title: "Proto", Width: 7},
		{Title: "Packets", Width: 8},
		{Title: "Bytes", Width: 10},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)

	s := table.DefaultStyles()
	s.Header = tableHeaderStyle
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("#FFFCF0")). // Paper
		Background(lipgloss.Color("#205EA6")). // Blue
		Bold(false)
	t.SetStyles(s)

	packetColumns := []table.Column{
		{Title: "Time", Width: 14},
		{Title: "Source", Width: 24},
		{Title: "Destination", Width: 24},
		{Title: "Length", Width: 8},
		{Title: "Tags", Width: 28},
	}
	pt := table.New(
		table.WithColumns(packetColumns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	pt.SetStyles(s)

	ti := textinput.New()
	ti.Placeholder = "Filter address, port, or protocol..."
	ti.CharLimit = 128
	ti.Width = 50
	ti.Prompt = "> "
	ti.PromptStyle = promptStyle
	ti.Blur()

	vp := viewport.New(0, 0)
	vp.YPosition = 0

	g := progress.New(
		progress.WithGradient("#205EA6", "#4385BE"), // Blue shades
		progress.WithWidth(50),
	)

	return MainModel{
		state:       stateLoading,
		ctl:         loader.NewController(nil),
		path:        opts.Path,
		refresh:     opts.Refresh,
		preferNames: opts.PreferNames,
		version:     opts.Version,
		gauge:       g,
		table:       t,
		packetTable: pt,
		input:       ti,
		hexView:     vp,
		detailFocus: focusPackets,
	}
}

// Start runs the interactive session until the user quits or the
// program fails.
func Start(opts Options) error {
	p := tea.NewProgram(InitialModel(opts), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running tui: %w", err)
	}
	return nil
}

func (m MainModel) Init() tea.Cmd {
	return tea.Batch(
		m.startLoad(),
		waitTick(m.refresh),
	)
}
