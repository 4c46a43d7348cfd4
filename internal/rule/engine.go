package rule

import (
	"fmt"
	"time"

	"github.com/loykin/bridgr/internal/event"
	"github.com/loykin/bridgr/internal/metrics"
)

// Engine evaluates the static rule list against one event at a time and
// owns the per-(rule, process) cooldown state. It is driven only from the
// bridge loop's single sequential flow, so it needs no locking; cooldown
// state resets with the process, which is fine for a rate limit.
type Engine struct {
	rules     []Rule
	lastFired map[cooldownKey]time.Time
	now       func() time.Time
}

type cooldownKey struct {
	rule    string
	process string
}

// NewEngine validates the rule list (unique ids, known actions) and builds
// an engine. now is injectable for deterministic tests; nil means
// time.Now.
func NewEngine(rules []Rule, now func() time.Time) (*Engine, error) {
	if now == nil {
		now = time.Now
	}
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return &Engine{
		rules:     rules,
		lastFired: make(map[cooldownKey]time.Time),
		now:       now,
	}, nil
}

// Rules returns the configured rule list in declaration order.
func (e *Engine) Rules() []Rule { return e.rules }

// Evaluate runs every rule against ev in declaration order. Each matching
// rule fires independently unless its (rule, process) pair is still inside
// the cooldown window; a suppressed rule never short-circuits the rest.
func (e *Engine) Evaluate(ev event.Event) []Action {
	var actions []Action
	now := e.now()
	for _, r := range e.rules {
		if !r.Matches(ev) {
			continue
		}
		key := cooldownKey{rule: r.ID, process: ev.Process}
		if r.Cooldown > 0 {
			if last, ok := e.lastFired[key]; ok && now.Sub(last) < r.Cooldown {
				metrics.IncRuleSuppressed(r.ID)
				continue
			}
		}
		e.lastFired[key] = now
		metrics.IncRuleFired(r.ID)
		actions = append(actions, Action{
			RuleID:  r.ID,
			Kind:    r.Action,
			Process: ev.Process,
			Target:  r.Dependent,
			Payload: payloadFor(r, ev),
			Event:   ev,
		})
	}
	return actions
}

func payloadFor(r Rule, ev event.Event) string {
	if r.Action == ActionInvokeControl {
		return r.Command
	}
	return ev.Describe()
}
