// Package aggregator folds decoded packets into bidirectional flows keyed
// by their canonical endpoint pair.
package aggregator

import (
	"flowlens/internal/core/model"
)

// Table accumulates the flows of one capture. It is owned by a single
// goroutine: the loader feeds it packets in reader emission order and
// hands the finished map off wholesale.
type Table struct {
	flows    map[model.FlowKey]*model.Flow
	packets  int
	startTS  float64
	hasStart bool
}

// NewTable returns an empty flow table.
func NewTable() *Table {
	return &Table{flows: make(map[model.FlowKey]*model.Flow)}
}

// Add folds one decoded packet into its flow, creating the flow on first
// sight. Frames whose decode resolved no addresses land in the shared
// placeholder flow instead of being dropped.
func (t *Table) Add(pkt *model.Packet, ctx *model.PacketContext) {
	t.packets++
	if !t.hasStart || pkt.Timestamp < t.startTS {
		t.startTS = pkt.Timestamp
		t.hasStart = true
	}

	key := model.PlaceholderKey()
	var source, destination model.Endpoint
	proto := model.ProtocolUnknown
	if ctx.HasAddresses() {
		source = model.Endpoint{Addr: ctx.SrcAddr, Port: ctx.SrcPort}
		destination = model.Endpoint{Addr: ctx.DstAddr, Port: ctx.DstPort}
		proto = ctx.Proto
		key = model.NewFlowKey(source, destination, proto)
	}

	flow, ok := t.flows[key]
	if !ok {
		// The creating packet's sender becomes the source. Later packets
		// never reorient the flow, whatever flags they carry.
		flow = &model.Flow{
			FirstSeen:   pkt.Timestamp,
			Proto:       proto,
			Source:      source,
			Destination: destination,
		}
		t.flows[key] = flow
	}
	flow.Append(pkt)
}

// Len returns the number of distinct flows seen so far.
func (t *Table) Len() int {
	return len(t.flows)
}

// PacketCount returns the number of packets folded in so far.
func (t *Table) PacketCount() int {
	return t.packets
}

// StartTime returns the earliest packet timestamp seen, and false when no
// packet has been added yet.
func (t *Table) StartTime() (float64, bool) {
	return t.startTS, t.hasStart
}

// Flows exposes the live flow map for inspection while feeding.
func (t *Table) Flows() map[model.FlowKey]*model.Flow {
	return t.flows
}

// Result transfers the accumulated flows to the caller and leaves the
// table empty. The returned map is no longer touched by the table.
func (t *Table) Result() map[model.FlowKey]*model.Flow {
	out := t.flows
	t.flows = make(map[model.FlowKey]*model.Flow)
	t.packets = 0
	t.startTS = 0
	t.hasStart = false
	return out
}
