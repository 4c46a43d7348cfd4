package rule

import (
	"fmt"
	"time"

	"github.com/loykin/bridgr/internal/event"
)

// ActionKind enumerates what a fired rule asks the dispatcher to do.
type ActionKind string

const (
	ActionLogOnly          ActionKind = "log"
	ActionNotify           ActionKind = "notify"
	ActionRestartDependent ActionKind = "restart-dependent"
	ActionInvokeControl    ActionKind = "control"
)

// KnownAction reports whether k names a dispatchable action.
func KnownAction(k ActionKind) bool {
	switch k {
	case ActionLogOnly, ActionNotify, ActionRestartDependent, ActionInvokeControl:
		return true
	}
	return false
}

// Rule is one static reaction entry. Rules are loaded once at startup and
// immutable for the life of the bridge.
type Rule struct {
	ID string
	// States are toState values that trigger the rule, matched by exact
	// equality.
	States []string
	// Processes is an allow-list of process names, case-sensitive exact
	// match. Empty matches every process.
	Processes []string
	Action    ActionKind
	// Dependent is the process the dispatcher restarts for
	// ActionRestartDependent.
	Dependent string
	// Command is the control operation for ActionInvokeControl, e.g.
	// "restart:nginx" or "stop-all".
	Command  string
	Cooldown time.Duration
}

// Matches is a total predicate over events: it never panics and has no
// side effects.
func (r Rule) Matches(ev event.Event) bool {
	matched := false
	for _, s := range r.States {
		if s == ev.ToState {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if len(r.Processes) == 0 {
		return true
	}
	for _, p := range r.Processes {
		if p == ev.Process {
			return true
		}
	}
	return false
}

// Validate checks a single rule for loadability.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule without id")
	}
	if len(r.States) == 0 {
		return fmt.Errorf("rule %s: no trigger states", r.ID)
	}
	if !KnownAction(r.Action) {
		return fmt.Errorf("rule %s: unknown action %q", r.ID, r.Action)
	}
	if r.Action == ActionRestartDependent && r.Dependent == "" {
		return fmt.Errorf("rule %s: restart-dependent requires dependent", r.ID)
	}
	if r.Action == ActionInvokeControl && r.Command == "" {
		return fmt.Errorf("rule %s: control requires command", r.ID)
	}
	if r.Cooldown < 0 {
		return fmt.Errorf("rule %s: negative cooldown", r.ID)
	}
	return nil
}

// Action is one unit of dispatch work bound to the event's process.
type Action struct {
	RuleID  string
	Kind    ActionKind
	Process string
	// Target is the object of the action: the dependent for
	// restart-dependent, unused otherwise.
	Target string
	// Payload carries the message text (notify/log) or control command.
	Payload string
	Event   event.Event
}
