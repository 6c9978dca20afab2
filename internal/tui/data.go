package tui

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"flowlens/internal/core/model"
)

// startLoad kicks the controller. Start only spawns the worker, so the
// command returns immediately; progress arrives through the tick polls.
func (m MainModel) startLoad() tea.Cmd {
	return func() tea.Msg {
		if err := m.ctl.Start(m.path); err != nil {
			return err
		}
		return nil
	}
}

func (m *MainModel) formatter() *model.FlowFormatter {
	format := &model.FlowFormatter{PreferNames: m.preferNames}
	if m.result != nil {
		format.Origin = m.result.StartTime
		format.HasOrigin = m.result.HasStart
		format.Names = m.result.Names
	}
	return format
}

// applyFilter rebuilds the visible flow rows from the current filter
// text. Row indexes track m.filtered so selection stays aligned.
func (m *MainModel) applyFilter() {
	format := m.formatter()
	filter := model.NewFlowFilter(m.input.Value(), format)

	var rows []table.Row
	m.filtered = nil
	for _, flow := range m.flows {
		if !filter.MatchAll() && !filter.Matches(flow) {
			continue
		}
		m.filtered = append(m.filtered, flow)
		rows = append(rows, table.Row{
			format.Timestamp(flow.FirstSeen),
			format.Endpoint(flow.Source),
			format.Endpoint(flow.Destination),
			flow.Proto.String(),
			strconv.Itoa(len(flow.Packets)),
			strconv.FormatUint(flow.TotalBytes(), 10),
		})
	}
	m.table.SetRows(rows)
}

func (m *MainModel) packetRows(flow *model.Flow) []table.Row {
	format := m.formatter()
	rows := make([]table.Row, 0, len(flow.Packets))
	for _, pkt := range flow.Packets {
		rows = append(rows, table.Row{
			format.Timestamp(pkt.Timestamp),
			format.PacketEndpoint(pkt.Src, pkt.SrcPort, pkt.HasPorts),
			format.PacketEndpoint(pkt.Dst, pkt.DstPort, pkt.HasPorts),
			strconv.Itoa(int(pkt.Length)),
			strings.Join(pkt.Tags, ", "),
		})
	}
	return rows
}

// updateHexView fills the dump pane with the selected packet's captured
// bytes.
func (m *MainModel) updateHexView() {
	m.hexView.GotoTop()
	if m.selected == nil {
		m.hexView.SetContent("")
		return
	}
	idx := m.packetTable.Cursor()
	if idx < 0 || idx >= len(m.selected.Packets) {
		m.hexView.SetContent("")
		return
	}
	pkt := m.selected.Packets[idx]
	if len(pkt.Data) == 0 {
		m.hexView.SetContent(dimStyle.Render("no captured bytes"))
		return
	}
	m.hexView.SetContent(hex.Dump(pkt.Data))
}
