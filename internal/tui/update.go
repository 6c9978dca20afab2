package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"flowlens/internal/core/model"
	"flowlens/internal/loader"
)

type tickMsg time.Time

func waitTick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.applyStatus(m.ctl.Poll())
		return m, waitTick(m.refresh)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case error:
		m.state = stateError
		m.errMsg = msg.Error()
		return m, nil
	}

	return m, nil
}

// applyStatus folds one controller poll into the model. Poll never
// blocks, so it is safe to call on every tick.
func (m *MainModel) applyStatus(st loader.Status) {
	switch st.State {
	case loader.StateRunning:
		m.pct = st.Progress
	case loader.StateLoaded:
		m.result = st.Result
		m.flows = model.SortFlows(st.Result.Flows)
		m.applyFilter()
		m.table.SetCursor(0)
		m.state = stateList
	case loader.StateError:
		m.errMsg = st.Err.Error()
		m.state = stateError
	}
}

func (m MainModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.ctl.Cancel()
		m.quitting = true
		return m, tea.Quit
	}

	switch m.state {
	case stateLoading, stateError:
		switch msg.String() {
		case "q", "esc":
			m.ctl.Cancel()
			m.quitting = true
			return m, tea.Quit
		case "r":
			if m.state == stateError {
				return m, m.reload()
			}
		}
		return m, nil

	case stateList:
		return m.handleListKey(msg)

	case stateDetail:
		return m.handleDetailKey(msg)
	}

	return m, nil
}

func (m MainModel) handleListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.input.Focused() {
		switch msg.String() {
		case "enter", "esc":
			m.input.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		m.applyFilter()
		m.table.SetCursor(0)
		return m, cmd
	}

	switch msg.String() {
	case "q", "esc":
		m.quitting = true
		return m, tea.Quit
	case "/":
		m.input.Focus()
		return m, textinput.Blink
	case "r":
		return m, m.reload()
	case "enter", " ":
		idx := m.table.Cursor()
		if idx >= 0 && idx < len(m.filtered) {
			m.openDetail(m.filtered[idx])
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m MainModel) handleDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "backspace":
		m.state = stateList
		m.selected = nil
		m.detailFocus = focusPackets
		return m, nil
	case "tab":
		if m.detailFocus == focusPackets {
			m.detailFocus = focusHex
		} else {
			m.detailFocus = focusPackets
		}
		return m, nil
	}

	var cmd tea.Cmd
	if m.detailFocus == focusPackets {
		prev := m.packetTable.Cursor()
		m.packetTable, cmd = m.packetTable.Update(msg)
		if m.packetTable.Cursor() != prev {
			m.updateHexView()
		}
		return m, cmd
	}
	m.hexView, cmd = m.hexView.Update(msg)
	return m, cmd
}

// reload cancels whatever is in flight and starts the capture over.
func (m *MainModel) reload() tea.Cmd {
	m.ctl.Cancel()
	m.state = stateLoading
	m.pct = 0
	m.errMsg = ""
	m.result = nil
	m.flows = nil
	m.filtered = nil
	m.selected = nil
	m.table.SetRows(nil)
	return m.startLoad()
}

func (m *MainModel) openDetail(flow *model.Flow) {
	m.selected = flow
	m.state = stateDetail
	m.detailFocus = focusPackets
	m.packetTable.SetRows(m.packetRows(flow))
	m.packetTable.SetCursor(0)
	m.updateHexView()
}

// layout spreads the window across the widgets. Fixed columns keep
// their width; the endpoint columns absorb the rest.
func (m *MainModel) layout() {
	availableWidth := m.width - 6
	if availableWidth < 40 {
		availableWidth = 40
	}

	listHeight := m.height - 12
	if listHeight < 5 {
		listHeight = 5
	}

	endpointWidth := (availableWidth - 39 - 12) / 2
	if endpointWidth < 15 {
		endpointWidth = 15
	}
	m.table.SetColumns([]table.Column{
		{Title: "Timestamp", Width: 14},
		{Title: "Source", Width: endpointWidth},
		{Title: "Destination", Width: endpointWidth},
		{Title: "Proto", Width: 7},
		{Title: "Packets", Width: 8},
		{Title: "Bytes", Width: 10},
	})
	m.table.SetWidth(availableWidth)
	m.table.SetHeight(listHeight)

	packetHeight := (m.height - 14) / 2
	if packetHeight < 4 {
		packetHeight = 4
	}
	packetEndpointWidth := (availableWidth - 22 - 28 - 10) / 2
	if packetEndpointWidth < 15 {
		packetEndpointWidth = 15
	}
	m.packetTable.SetColumns([]table.Column{
		{Title: "Time", Width: 14},
		{Title: "Source", Width: packetEndpointWidth},
		{Title: "Destination", Width: packetEndpointWidth},
		{Title: "Length", Width: 8},
		{Title: "Tags", Width: 28},
	})
	m.packetTable.SetWidth(availableWidth)
	m.packetTable.SetHeight(packetHeight)

	hexHeight := m.height - packetHeight - 13
	if hexHeight < 3 {
		hexHeight = 3
	}
	m.hexView.Width = availableWidth
	m.hexView.Height = hexHeight

	gaugeWidth := availableWidth - 8
	if gaugeWidth > 60 {
		gaugeWidth = 60
	}
	if gaugeWidth < 20 {
		gaugeWidth = 20
	}
	m.gauge.Width = gaugeWidth
}
