// Package loader runs capture ingestion on a background worker and
// publishes its state through a non-blocking poll API.
//
// The worker exclusively owns the reader, decoder, and flow table for the
// duration of a load. The only channel between worker and caller is the
// status stream: progress while running, then exactly one terminal status
// carrying either the finished result or the load error.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sync"

	"github.com/rs/zerolog/log"

	"flowlens/internal/core/model"
	"flowlens/internal/engine/aggregator"
	"flowlens/internal/engine/decoder"
	"flowlens/pkg/pcapng"
)

// State labels one phase of a load's lifecycle.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateLoaded
	StateError
)

var stateNames = [...]string{"idle", "running", "loaded", "error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// ErrAlreadyLoading reports a Start while a load is still in flight.
var ErrAlreadyLoading = errors.New("loader: a capture is already loading")

// Result is the outcome of one completed load. Ownership transfers to the
// receiver of the Loaded status; the loader never touches it again.
type Result struct {
	Flows     map[model.FlowKey]*model.Flow
	Names     map[netip.Addr][]string
	StartTime float64 // earliest packet timestamp, valid when HasStart
	HasStart  bool
	Packets   int
}

// Status is one observation of the loader. Result is set only on
// StateLoaded, Err only on StateError.
type Status struct {
	State    State
	Progress float64
	Result   *Result
	Err      error
}

// statusMsg stamps a status with the load generation that produced it, so
// statuses from a canceled load are discarded instead of surfacing.
type statusMsg struct {
	gen    uint64
	status Status
}

const statusBuffer = 64

// Controller owns at most one in-flight load and hands its outcome to
// whoever polls. All methods are safe for concurrent use; none of them
// block on the worker.
type Controller struct {
	registry *decoder.Registry

	mu           sync.Mutex
	updates      chan statusMsg
	cancel       context.CancelFunc
	running      bool
	gen          uint64
	lastProgress float64
}

// NewController returns an idle controller decoding through reg, or
// through the built-in decoder set when reg is nil.
func NewController(reg *decoder.Registry) *Controller {
	if reg == nil {
		reg = decoder.Default()
	}
	return &Controller{
		registry: reg,
		updates:  make(chan statusMsg, statusBuffer),
	}
}

// StartLoad begins loading the capture at path on a fresh controller and
// returns the controller to poll.
func StartLoad(path string) *Controller {
	c := NewController(nil)
	// A fresh controller cannot be mid-load.
	_ = c.Start(path)
	return c
}

// Start begins loading the capture at path. It fails with
// ErrAlreadyLoading while a previous load is still running; a finished or
// canceled load frees the controller for reuse.
func (c *Controller) Start(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyLoading
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true
	c.gen++
	c.lastProgress = 0

	go c.load(ctx, c.gen, path)
	return nil
}

// Poll reports the current status without blocking. A terminal status
// (Loaded or Error) is returned exactly once; afterwards Poll reports
// Idle until the next Start.
func (c *Controller) Poll() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	var terminal *Status
	for drained := false; !drained; {
		select {
		case msg := <-c.updates:
			if msg.gen != c.gen {
				continue
			}
			switch msg.status.State {
			case StateRunning:
				if msg.status.Progress > c.lastProgress {
					c.lastProgress = msg.status.Progress
				}
			case StateLoaded, StateError:
				st := msg.status
				terminal = &st
			}
		default:
			drained = true
		}
	}

	if terminal != nil {
		c.finishLocked()
		return *terminal
	}
	if c.running {
		return Status{State: StateRunning, Progress: c.lastProgress}
	}
	return Status{State: StateIdle}
}

// Cancel asks the in-flight load to stop and returns the controller to
// Idle. Anything the canceled worker still publishes is discarded. Safe
// to call when nothing is running.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishLocked()
	c.gen++
}

func (c *Controller) finishLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.running = false
	c.lastProgress = 0
}

// load is the worker. It owns the reader and flow table until it exits
// and communicates only through the status channel.
func (c *Controller) load(ctx context.Context, gen uint64, path string) {
	log.Info().Str("path", path).Msg("load started")

	r, err := pcapng.Open(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("load failed")
		c.publish(gen, Status{State: StateError, Err: err})
		return
	}
	defer r.Close()

	table := aggregator.NewTable()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("path", path).Msg("load canceled")
			return
		default:
		}

		frame, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Error().Err(err).Str("path", path).Msg("load failed")
			c.publish(gen, Status{State: StateError, Err: fmt.Errorf("%s: %w", path, err)})
			return
		}

		pktCtx := &model.PacketContext{}
		c.registry.Run(decoder.RootKind(frame.LinkType), frame.Data, pktCtx)
		table.Add(model.NewPacket(frame.Timestamp, frame.WireLength, frame.Data, pktCtx), pktCtx)

		c.publish(gen, Status{State: StateRunning, Progress: r.Progress()})
	}

	packets := table.PacketCount()
	start, hasStart := table.StartTime()
	result := &Result{
		Flows:     table.Result(),
		Names:     r.Names(),
		StartTime: start,
		HasStart:  hasStart,
		Packets:   packets,
	}

	log.Info().Str("path", path).Int("flows", len(result.Flows)).Int("packets", packets).Msg("load complete")
	c.publish(gen, Status{State: StateLoaded, Progress: 1, Result: result})
}

// publish enqueues a status without ever blocking the worker: when the
// channel is full the oldest unread status is evicted, which keeps the
// newest observation available to the next Poll.
func (c *Controller) publish(gen uint64, st Status) {
	msg := statusMsg{gen: gen, status: st}
	for {
		select {
		case c.updates <- msg:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}
