package event

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	processPrefix    = "PROCESS_STATE_"
	supervisorPrefix = "SUPERVISOR_STATE_CHANGE_"

	// Fallback identity for supervisor-level events, which carry no
	// process fields of their own.
	supervisorName = "supervisord"
)

var processStates = map[string]bool{
	StateStarting: true,
	StateRunning:  true,
	StateBackoff:  true,
	StateStopping: true,
	StateExited:   true,
	StateStopped:  true,
	StateFatal:    true,
	StateUnknown:  true,
}

// DecodeError reports a single malformed event. The caller drops the event
// and still acknowledges the frame; one bad payload must never stall the
// daemon.
type DecodeError struct {
	EventName string
	Reason    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.EventName, e.Reason)
}

// Decode turns an event name and its payload into a typed Event. The
// payload's first line is space-separated key:value pairs; anything after a
// blank line is free-text body and is ignored here. Decode is pure and
// produces at most one Event.
func Decode(eventName string, payload []byte, at time.Time) (Event, error) {
	switch {
	case strings.HasPrefix(eventName, supervisorPrefix):
		return decodeSupervisor(eventName, payload, at)
	case strings.HasPrefix(eventName, processPrefix):
		return decodeProcess(eventName, payload, at)
	default:
		return Event{}, &DecodeError{EventName: eventName, Reason: "unsupported event name"}
	}
}

func decodeProcess(eventName string, payload []byte, at time.Time) (Event, error) {
	state := strings.TrimPrefix(eventName, processPrefix)
	if !processStates[state] {
		return Event{}, &DecodeError{EventName: eventName, Reason: "unknown target state " + state}
	}
	fields := parseFields(payload)
	ev := Event{
		Kind:      ProcessStateChanged,
		Process:   fields["processname"],
		Group:     fields["groupname"],
		FromState: fields["from_state"],
		ToState:   state,
		At:        at,
	}
	if ev.Process == "" {
		return Event{}, &DecodeError{EventName: eventName, Reason: "missing processname"}
	}
	if ev.Group == "" {
		return Event{}, &DecodeError{EventName: eventName, Reason: "missing groupname"}
	}
	// An unparseable pid is treated as absent, not as a decode failure.
	if raw, ok := fields["pid"]; ok {
		if pid, err := strconv.Atoi(raw); err == nil && pid > 0 {
			ev.PID = pid
		}
	}
	return ev, nil
}

func decodeSupervisor(eventName string, payload []byte, at time.Time) (Event, error) {
	state := strings.TrimPrefix(eventName, supervisorPrefix)
	if state != StateRunning && state != StateStopping {
		return Event{}, &DecodeError{EventName: eventName, Reason: "unknown supervisor state " + state}
	}
	fields := parseFields(payload)
	ev := Event{
		Kind:      SupervisorStateChanged,
		Process:   fields["processname"],
		Group:     fields["groupname"],
		FromState: fields["from_state"],
		// The daemon leaves to_state out of supervisor payloads; the
		// event-name suffix is authoritative.
		ToState: state,
		At:      at,
	}
	if ev.Process == "" {
		ev.Process = supervisorName
	}
	if ev.Group == "" {
		ev.Group = supervisorName
	}
	return ev, nil
}

// parseFields splits the header line of a payload into key:value pairs.
// Tokens without a colon are skipped, mirroring the daemon's own tolerant
// parsing.
func parseFields(payload []byte) map[string]string {
	line := string(payload)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	fields := make(map[string]string)
	for _, tok := range strings.Fields(line) {
		if k, v, ok := strings.Cut(tok, ":"); ok && k != "" {
			fields[k] = v
		}
	}
	return fields
}
