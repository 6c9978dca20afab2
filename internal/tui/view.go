package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

func (m MainModel) View() string {
	if m.quitting {
		return ""
	}

	switch m.state {
	case stateLoading:
		return m.loadingView()
	case stateError:
		return m.errorView()
	case stateDetail:
		return m.detailView()
	default:
		return m.listView()
	}
}

func (m MainModel) loadingView() string {
	box := gaugeBoxStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Loading capture"),
			"",
			m.gauge.ViewAs(m.pct),
			"",
			dimStyle.Render(m.path),
		),
	)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m MainModel) errorView() string {
	wrapWidth := m.width - 10
	if wrapWidth < 20 {
		wrapWidth = 20
	}
	box := gaugeBoxStyle.BorderForeground(lipgloss.Color("#D14D41")).Render( // Soft red
		lipgloss.JoinVertical(lipgloss.Left,
			errorStyle.Render("Error"),
			"",
			wordwrap.String(m.errMsg, wrapWidth),
			"",
			dimStyle.Render("r: Retry | Esc/q: Quit"),
		),
	)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, box)
}

func (m MainModel) listView() string {
	outerStyle := baseStyle.
		Width(m.width - 2).
		Height(m.height - 2).
		Padding(0, 1)

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("flowlens"),
		dimStyle.PaddingLeft(1).Render(m.path),
	)

	status := "Mode: Navigation (Press / to filter)"
	if m.input.Focused() {
		status = "Mode: Filtering (Press Esc/Enter to stop)"
	}

	helpText := fmt.Sprintf("Total: %d | Enter: Packets | /: Filter | r: Reload | Esc/q: Quit", len(m.filtered))
	footerContent := m.withVersion(helpText)

	return outerStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header,
			lipgloss.NewStyle().Height(1).Render(""),
			lipgloss.NewStyle().MarginBottom(1).PaddingLeft(1).Render(status),
			lipgloss.NewStyle().MarginBottom(1).PaddingLeft(1).Render(m.input.View()),
			m.table.View(),
			lipgloss.NewStyle().Height(1).Render(""),
			footerStyle.Width(m.width-4).Render(footerContent),
		),
	)
}

func (m MainModel) detailView() string {
	outerStyle := baseStyle.
		Width(m.width - 2).
		Height(m.height - 2).
		Padding(0, 1)

	summary := ""
	if m.selected != nil {
		format := m.formatter()
		summary = fmt.Sprintf("%s → %s  %s",
			format.Endpoint(m.selected.Source),
			format.Endpoint(m.selected.Destination),
			m.selected.Proto)
	}

	header := lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("flowlens"),
		dimStyle.PaddingLeft(1).Render(summary),
	)

	activeColor := lipgloss.Color("#4385BE") // Light blue
	dimColor := lipgloss.Color("#878580")    // Dimmed gray
	packetsTitle := "Packets"
	if m.selected != nil {
		packetsTitle = fmt.Sprintf("Packets (%d)", len(m.selected.Packets))
	}
	hexTitle := "Payload"
	if !m.hexView.AtTop() && !m.hexView.AtBottom() {
		hexTitle += " ↕"
	} else if !m.hexView.AtTop() {
		hexTitle += " ↑"
	} else if !m.hexView.AtBottom() {
		hexTitle += " ↓"
	}

	packetsHeader := tableHeaderStyle.Foreground(dimColor)
	hexHeader := tableHeaderStyle.Foreground(dimColor)
	if m.detailFocus == focusPackets {
		packetsHeader = tableHeaderStyle.Foreground(activeColor)
	} else {
		hexHeader = tableHeaderStyle.Foreground(activeColor)
	}

	helpText := "Tab: Focus | ↑/↓: Scroll | Esc/q: Back"
	footerContent := m.withVersion(helpText)

	return outerStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			header,
			lipgloss.NewStyle().Height(1).Render(""),
			packetsHeader.Render(packetsTitle),
			m.packetTable.View(),
			lipgloss.NewStyle().Height(1).Render(""),
			hexHeader.Render(hexTitle),
			lipgloss.NewStyle().PaddingLeft(1).Render(m.hexView.View()),
			lipgloss.NewStyle().Height(1).Render(""),
			footerStyle.Width(m.width-4).Render(footerContent),
		),
	)
}

// withVersion right-aligns the version string after the help text when
// there is room for it.
func (m MainModel) withVersion(helpText string) string {
	if m.version == "" {
		return helpText
	}
	gap := m.width - 6 - lipgloss.Width(helpText) - lipgloss.Width(m.version)
	if gap <= 0 {
		return helpText
	}
	return helpText + strings.Repeat(" ", gap) + m.version
}
