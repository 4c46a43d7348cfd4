package control

import "errors"

// Typed call outcomes. Callers branch with errors.Is; the concrete fault
// text travels in the wrapped message.
var (
	// ErrUnreachable covers transport failures and per-call timeouts:
	// the daemon's control endpoint did not answer.
	ErrUnreachable = errors.New("daemon unreachable")
	// ErrNotFound means the daemon does not know the process name.
	ErrNotFound = errors.New("no such process")
	// ErrRejected means the daemon refused the command in the process's
	// current state (already started, not running, shutting down).
	ErrRejected = errors.New("command rejected")
)

// supervisord XML-RPC fault codes, from its published RPC interface.
const (
	faultBadName        = 10
	faultSpawnError     = 50
	faultAlreadyStarted = 60
	faultNotRunning     = 70
)
