package dispatch

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/loykin/bridgr/internal/control"
	"github.com/loykin/bridgr/internal/metrics"
	"github.com/loykin/bridgr/internal/notify"
	"github.com/loykin/bridgr/internal/rule"
)

// Controller is the slice of the control surface the dispatcher drives.
type Controller interface {
	Start(name string) (control.Result, error)
	Stop(name string) (control.Result, error)
	Restart(name string) (control.Result, error)
	StopAll() ([]control.Result, error)
}

// Outcome reports one executed action. Failures travel here as values;
// the dispatcher never raises, so a failing action cannot disturb the
// frame acknowledgement handshake.
type Outcome struct {
	Action  rule.Action
	OK      bool
	Message string
}

// Dispatcher executes actions strictly in the order received.
type Dispatcher struct {
	ctl      Controller
	notifier notify.Notifier
	logger   *slog.Logger
}

func New(ctl Controller, notifier notify.Notifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{ctl: ctl, notifier: notifier, logger: logger}
}

// Execute runs every action and returns one outcome per action, in order.
func (d *Dispatcher) Execute(actions []rule.Action) []Outcome {
	outcomes := make([]Outcome, 0, len(actions))
	for _, a := range actions {
		out := d.execute(a)
		metrics.IncActionExecuted(string(a.Kind), out.OK)
		if out.OK {
			d.logger.Debug("action executed", "rule", a.RuleID, "kind", a.Kind, "process", a.Process)
		} else {
			d.logger.Warn("action failed", "rule", a.RuleID, "kind", a.Kind, "process", a.Process, "reason", out.Message)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (d *Dispatcher) execute(a rule.Action) Outcome {
	switch a.Kind {
	case rule.ActionLogOnly:
		d.logger.Info("event", "rule", a.RuleID, "detail", a.Payload)
		return Outcome{Action: a, OK: true}
	case rule.ActionNotify:
		return d.doNotify(a)
	case rule.ActionRestartDependent:
		return d.doRestartDependent(a)
	case rule.ActionInvokeControl:
		return d.doInvokeControl(a)
	default:
		return Outcome{Action: a, OK: false, Message: fmt.Sprintf("unknown action kind %q", a.Kind)}
	}
}

func (d *Dispatcher) doNotify(a rule.Action) Outcome {
	err := d.notifier.Notify(notify.Message{
		Rule:    a.RuleID,
		Process: a.Process,
		Group:   a.Event.Group,
		From:    a.Event.FromState,
		To:      a.Event.ToState,
		PID:     a.Event.PID,
		At:      a.Event.At,
		Text:    a.Payload,
	})
	if err != nil {
		// Fire and forget: the failure is logged by the caller and the
		// remaining actions still run.
		return Outcome{Action: a, OK: false, Message: err.Error()}
	}
	return Outcome{Action: a, OK: true}
}

func (d *Dispatcher) doRestartDependent(a rule.Action) Outcome {
	res, err := d.ctl.Restart(a.Target)
	if err != nil {
		// Not retried here: the daemon's own restart policy for the
		// dependent takes over.
		return Outcome{Action: a, OK: false, Message: err.Error()}
	}
	return Outcome{Action: a, OK: res.OK, Message: res.Message}
}

// doInvokeControl runs the control operation named in the payload:
// "start:NAME", "stop:NAME", "restart:NAME" or "stop-all".
func (d *Dispatcher) doInvokeControl(a rule.Action) Outcome {
	op, target, _ := strings.Cut(a.Payload, ":")
	var (
		res control.Result
		err error
	)
	switch op {
	case "start":
		res, err = d.ctl.Start(target)
	case "stop":
		res, err = d.ctl.Stop(target)
	case "restart":
		res, err = d.ctl.Restart(target)
	case "stop-all":
		var results []control.Result
		results, err = d.ctl.StopAll()
		if err == nil {
			res = control.Result{OK: true, Message: fmt.Sprintf("stopped %d processes", len(results))}
		}
	default:
		return Outcome{Action: a, OK: false, Message: fmt.Sprintf("unknown control command %q", a.Payload)}
	}
	if err != nil {
		return Outcome{Action: a, OK: false, Message: err.Error()}
	}
	return Outcome{Action: a, OK: res.OK, Message: res.Message}
}
