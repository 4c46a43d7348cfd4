package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/bridgr/internal/dispatch"
	"github.com/loykin/bridgr/internal/event"
	"github.com/loykin/bridgr/internal/metrics"
	"github.com/loykin/bridgr/internal/protocol"
	"github.com/loykin/bridgr/internal/rule"
)

// State names the loop's position in the protocol turn. The handshake is
// modeled as an explicit machine so the mandatory acknowledgement and the
// suspension points are visible and testable without real I/O.
type State int

const (
	StateAwaitingEvent State = iota
	StateReadingHeader
	StateReadingPayload
	StateDecoding
	StateEvaluating
	StateDispatching
	StateAcknowledging
)

func (s State) String() string {
	switch s {
	case StateAwaitingEvent:
		return "awaiting_event"
	case StateReadingHeader:
		return "reading_header"
	case StateReadingPayload:
		return "reading_payload"
	case StateDecoding:
		return "decoding"
	case StateEvaluating:
		return "evaluating"
	case StateDispatching:
		return "dispatching"
	case StateAcknowledging:
		return "acknowledging"
	default:
		return "unknown"
	}
}

// Bridge drives Framer -> Decoder -> Engine -> Dispatcher for one frame at
// a time. It is single-threaded by design: the daemon's protocol forbids
// pipelining, so one frame is fully processed and acknowledged before the
// next READY.
type Bridge struct {
	framer     *protocol.Framer
	engine     *rule.Engine
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
	now        func() time.Time

	state State
}

// New wires a bridge. now is injectable for tests; nil means time.Now.
func New(framer *protocol.Framer, engine *rule.Engine, dispatcher *dispatch.Dispatcher, logger *slog.Logger, now func() time.Time) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Bridge{
		framer:     framer,
		engine:     engine,
		dispatcher: dispatcher,
		logger:     logger,
		now:        now,
		state:      StateAwaitingEvent,
	}
}

// State reports the loop's current position, for diagnostics.
func (b *Bridge) State() State { return b.state }

// Run cycles the protocol turn until the transport fails or the daemon
// announces it is stopping. A transport error is returned to the caller,
// which exits non-zero and leaves recovery to the daemon's own restart
// policy; there is no in-process reconnect because the transport is the
// daemon's managed pipe.
func (b *Bridge) Run() error {
	b.logger.Info("bridge started, waiting for events")
	for {
		stopping, err := b.turn()
		if err != nil {
			return err
		}
		if stopping {
			b.logger.Info("supervisor stopping, bridge exiting")
			return nil
		}
	}
}

// turn processes exactly one frame: READY, header, payload, decode,
// evaluate, dispatch, acknowledge.
func (b *Bridge) turn() (stopping bool, err error) {
	b.state = StateAwaitingEvent
	if err := b.framer.Ready(); err != nil {
		return false, fmt.Errorf("bridge: %w", err)
	}

	b.state = StateReadingHeader
	hdr, err := b.framer.ReadHeader()
	if err != nil {
		return false, fmt.Errorf("bridge: %w", err)
	}

	b.state = StateReadingPayload
	payload, err := b.framer.ReadPayload(hdr.Len)
	if err != nil {
		return false, fmt.Errorf("bridge: %w", err)
	}

	b.state = StateDecoding
	ev, err := event.Decode(hdr.EventName, payload, b.now())
	if err != nil {
		// A malformed single event never escalates to a daemon-level
		// failure: acknowledge OK so the daemon is not blocked, drop
		// the event.
		metrics.IncDecodeFailure()
		b.logger.Warn("dropping undecodable event", "eventname", hdr.EventName, "error", err)
		b.state = StateAcknowledging
		if err := b.framer.Ack(true); err != nil {
			return false, fmt.Errorf("bridge: %w", err)
		}
		return false, nil
	}
	metrics.IncEventReceived(ev.Kind.String())
	b.logger.Info("event", "detail", ev.Describe())

	b.state = StateEvaluating
	actions := b.engine.Evaluate(ev)

	b.state = StateDispatching
	outcomes := b.dispatcher.Execute(actions)
	for _, out := range outcomes {
		if !out.OK {
			b.logger.Warn("action outcome", "rule", out.Action.RuleID, "kind", out.Action.Kind, "message", out.Message)
		}
	}

	b.state = StateAcknowledging
	if err := b.framer.Ack(true); err != nil {
		return false, fmt.Errorf("bridge: %w", err)
	}

	stopping = ev.Kind == event.SupervisorStateChanged && ev.ToState == event.StateStopping
	return stopping, nil
}

// IsEOF reports whether err is the daemon closing the pipe, which callers
// may treat as a quieter exit than a mid-frame failure.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
