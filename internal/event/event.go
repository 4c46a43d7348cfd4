package event

import (
	"fmt"
	"time"
)

// Kind classifies the two lifecycle notification families the bridge
// understands.
type Kind int

const (
	ProcessStateChanged Kind = iota
	SupervisorStateChanged
)

func (k Kind) String() string {
	switch k {
	case ProcessStateChanged:
		return "process_state"
	case SupervisorStateChanged:
		return "supervisor_state"
	default:
		return "unknown"
	}
}

// Process states announced by the daemon.
const (
	StateStarting = "STARTING"
	StateRunning  = "RUNNING"
	StateBackoff  = "BACKOFF"
	StateStopping = "STOPPING"
	StateExited   = "EXITED"
	StateStopped  = "STOPPED"
	StateFatal    = "FATAL"
	StateUnknown  = "UNKNOWN"
)

// Event is one decoded lifecycle notification. It is immutable: created by
// Decode, consumed once by the rule engine, never persisted.
type Event struct {
	Kind      Kind
	Process   string
	Group     string
	FromState string
	ToState   string
	PID       int // 0 when absent or unparseable
	At        time.Time
}

// Describe renders the event the way the operational log prints it:
// [group: name (pid)] FROM -> TO.
func (e Event) Describe() string {
	prefix := e.Process
	if e.Group != "" && e.Group != e.Process {
		prefix = e.Group + ": " + e.Process
	}
	if e.PID > 0 {
		prefix = fmt.Sprintf("%s (%d)", prefix, e.PID)
	}
	switch {
	case e.FromState != "" && e.ToState != "":
		return fmt.Sprintf("[%s] %s -> %s", prefix, e.FromState, e.ToState)
	case e.ToState != "":
		return fmt.Sprintf("[%s] ? -> %s", prefix, e.ToState)
	default:
		return "[" + prefix + "]"
	}
}
