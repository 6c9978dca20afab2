// Package api exposes loaded captures over a small JSON HTTP API.
//
// The handler owns one loader controller. A load is started with POST
// /api/v1/load and observed with GET /api/v1/status; once loaded, the
// flow list and per-flow packets are served from the transferred result
// until the next load replaces it.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"flowlens/internal/core/model"
	"flowlens/internal/loader"
)

// Handler holds the dependencies for the API handlers.
type Handler struct {
	log         zerolog.Logger
	preferNames bool

	mu      sync.Mutex
	ctl     *loader.Controller
	result  *loader.Result
	flows   []*model.Flow // sorted by first packet; index is the flow id
	lastErr error
}

// NewHandler returns a Handler with an idle controller.
func NewHandler(logger zerolog.Logger, preferNames bool) *Handler {
	return &Handler{
		log:         logger,
		preferNames: preferNames,
		ctl:         loader.NewController(nil),
	}
}

// Router builds the API routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/load", h.loadHandler).Methods("POST")
	r.HandleFunc("/api/v1/status", h.statusHandler).Methods("GET")
	r.HandleFunc("/api/v1/flows", h.flowsHandler).Methods("GET")
	r.HandleFunc("/api/v1/flows/{id}/packets", h.packetsHandler).Methods("GET")
	return r
}

type loadRequest struct {
	Path string `json:"path"`
}

type statusResponse struct {
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
	Flows    int     `json:"flows,omitempty"`
	Packets  int     `json:"packets,omitempty"`
	Error    string  `json:"error,omitempty"`
}

type flowResponse struct {
	ID          int     `json:"id"`
	FirstSeen   string  `json:"first_seen"`
	Protocol    string  `json:"protocol"`
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Packets     int     `json:"packets"`
	TotalBytes  uint64  `json:"total_bytes"`
	Raw         float64 `json:"first_seen_unix"`
}

type packetResponse struct {
	Timestamp   string   `json:"timestamp"`
	Source      string   `json:"source"`
	Destination string   `json:"destination"`
	Length      uint16   `json:"length"`
	Captured    int      `json:"captured"`
	Tags        []string `json:"tags,omitempty"`
}

// refreshLocked folds the latest poll into the handler's sticky view of
// the load. The controller hands a terminal status out exactly once, so
// the result and error are kept here for every later request.
func (h *Handler) refreshLocked() loader.Status {
	st := h.ctl.Poll()
	switch st.State {
	case loader.StateLoaded:
		h.result = st.Result
		h.flows = model.SortFlows(st.Result.Flows)
		h.lastErr = nil
	case loader.StateError:
		h.result = nil
		h.flows = nil
		h.lastErr = st.Err
	}
	return st
}

// loadHandler starts loading the capture named in the request body.
func (h *Handler) loadHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read request body: %v", err), http.StatusBadRequest)
		return
	}
	var req loadRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshLocked()
	if err := h.ctl.Start(req.Path); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	h.result = nil
	h.flows = nil
	h.lastErr = nil
	h.log.Info().Str("path", req.Path).Msg("load requested")
	h.writeJSON(w, http.StatusAccepted, statusResponse{State: loader.StateRunning.String()})
}

// statusHandler reports the current load state. A held result keeps
// reporting loaded until a new load starts.
func (h *Handler) statusHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	st := h.refreshLocked()
	resp := statusResponse{State: st.State.String(), Progress: st.Progress}
	switch {
	case h.result != nil:
		resp.State = loader.StateLoaded.String()
		resp.Progress = 1
		resp.Flows = len(h.flows)
		resp.Packets = h.result.Packets
	case h.lastErr != nil:
		resp.State = loader.StateError.String()
		resp.Error = h.lastErr.Error()
	}
	h.mu.Unlock()

	h.writeJSON(w, http.StatusOK, resp)
}

// flowsHandler lists loaded flows, optionally filtered with ?filter=.
func (h *Handler) flowsHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshLocked()
	if h.result == nil {
		http.Error(w, "no capture loaded", http.StatusNotFound)
		return
	}

	format := h.formatterLocked()
	filter := model.NewFlowFilter(r.URL.Query().Get("filter"), format)

	resp := make([]flowResponse, 0, len(h.flows))
	for i, flow := range h.flows {
		if !filter.MatchAll() && !filter.Matches(flow) {
			continue
		}
		resp = append(resp, flowResponse{
			ID:          i,
			FirstSeen:   format.Timestamp(flow.FirstSeen),
			Protocol:    flow.Proto.String(),
			Source:      format.Endpoint(flow.Source),
			Destination: format.Endpoint(flow.Destination),
			Packets:     len(flow.Packets),
			TotalBytes:  flow.TotalBytes(),
			Raw:         flow.FirstSeen,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// packetsHandler lists the packets of one flow by its id from the flow
// listing.
func (h *Handler) packetsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid flow id", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.refreshLocked()
	if h.result == nil {
		http.Error(w, "no capture loaded", http.StatusNotFound)
		return
	}
	if id < 0 || id >= len(h.flows) {
		http.Error(w, "unknown flow id", http.StatusNotFound)
		return
	}

	format := h.formatterLocked()
	flow := h.flows[id]
	resp := make([]packetResponse, 0, len(flow.Packets))
	for _, pkt := range flow.Packets {
		resp = append(resp, packetResponse{
			Timestamp:   format.Timestamp(pkt.Timestamp),
			Source:      format.PacketEndpoint(pkt.Src, pkt.SrcPort, pkt.HasPorts),
			Destination: format.PacketEndpoint(pkt.Dst, pkt.DstPort, pkt.HasPorts),
			Length:      pkt.Length,
			Captured:    len(pkt.Data),
			Tags:        pkt.Tags,
		})
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) formatterLocked() *model.FlowFormatter {
	return &model.FlowFormatter{
		Origin:      h.result.StartTime,
		HasOrigin:   h.result.HasStart,
		PreferNames: h.preferNames,
		Names:       h.result.Names,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonBytes); err != nil {
		h.log.Debug().Err(err).Msg("response write failed")
	}
}
