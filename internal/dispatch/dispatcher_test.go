package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/bridgr/internal/control"
	"github.com/loykin/bridgr/internal/notify"
	"github.com/loykin/bridgr/internal/rule"
)

// fakeController records calls and serves scripted results.
type fakeController struct {
	calls      []string
	restartErr error
}

func (f *fakeController) Start(name string) (control.Result, error) {
	f.calls = append(f.calls, "start:"+name)
	return control.Result{Name: name, OK: true}, nil
}

func (f *fakeController) Stop(name string) (control.Result, error) {
	f.calls = append(f.calls, "stop:"+name)
	return control.Result{Name: name, OK: true}, nil
}

func (f *fakeController) Restart(name string) (control.Result, error) {
	f.calls = append(f.calls, "restart:"+name)
	if f.restartErr != nil {
		return control.Result{}, f.restartErr
	}
	return control.Result{Name: name, OK: true, Message: name + " state=RUNNING"}, nil
}

func (f *fakeController) StopAll() ([]control.Result, error) {
	f.calls = append(f.calls, "stop-all")
	return []control.Result{}, nil
}

type fakeNotifier struct {
	messages []notify.Message
	err      error
}

func (f *fakeNotifier) Notify(msg notify.Message) error {
	f.messages = append(f.messages, msg)
	return f.err
}

func newDispatcher(ctl Controller, n notify.Notifier) *Dispatcher {
	return New(ctl, n, slog.Default())
}

func action(kind rule.ActionKind) rule.Action {
	return rule.Action{RuleID: "r1", Kind: kind, Process: "worker1", Payload: "detail"}
}

func TestExecuteEmpty(t *testing.T) {
	d := newDispatcher(&fakeController{}, &fakeNotifier{})
	assert.Empty(t, d.Execute(nil))
}

func TestLogOnlyAlwaysSucceeds(t *testing.T) {
	d := newDispatcher(&fakeController{}, &fakeNotifier{})
	outcomes := d.Execute([]rule.Action{action(rule.ActionLogOnly)})
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
}

func TestNotifyHandsOffMessage(t *testing.T) {
	n := &fakeNotifier{}
	d := newDispatcher(&fakeController{}, n)

	a := action(rule.ActionNotify)
	a.Event.Group = "workers"
	a.Event.ToState = "FATAL"
	outcomes := d.Execute([]rule.Action{a})

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].OK)
	require.Len(t, n.messages, 1)
	assert.Equal(t, "worker1", n.messages[0].Process)
	assert.Equal(t, "FATAL", n.messages[0].To)
}

func TestNotifyFailureDoesNotAbortBatch(t *testing.T) {
	ctl := &fakeController{}
	n := &fakeNotifier{err: errors.New("queue down")}
	d := newDispatcher(ctl, n)

	restart := action(rule.ActionRestartDependent)
	restart.Target = "cache"
	outcomes := d.Execute([]rule.Action{action(rule.ActionNotify), restart})

	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].OK)
	assert.True(t, outcomes[1].OK)
	assert.Equal(t, []string{"restart:cache"}, ctl.calls)
}

func TestRestartDependentFailureIsLoggedNotRetried(t *testing.T) {
	ctl := &fakeController{restartErr: fmt.Errorf("restart cache: %w", control.ErrUnreachable)}
	d := newDispatcher(ctl, &fakeNotifier{})

	a := action(rule.ActionRestartDependent)
	a.Target = "cache"
	outcomes := d.Execute([]rule.Action{a})

	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK)
	// Exactly one attempt.
	assert.Equal(t, []string{"restart:cache"}, ctl.calls)
}

func TestInvokeControlCommands(t *testing.T) {
	ctl := &fakeController{}
	d := newDispatcher(ctl, &fakeNotifier{})

	cases := []struct {
		payload string
		call    string
	}{
		{"start:web", "start:web"},
		{"stop:web", "stop:web"},
		{"restart:web", "restart:web"},
		{"stop-all", "stop-all"},
	}
	for _, tc := range cases {
		a := action(rule.ActionInvokeControl)
		a.Payload = tc.payload
		outcomes := d.Execute([]rule.Action{a})
		require.Len(t, outcomes, 1)
		assert.True(t, outcomes[0].OK, tc.payload)
	}
	assert.Equal(t, []string{"start:web", "stop:web", "restart:web", "stop-all"}, ctl.calls)
}

func TestInvokeControlUnknownCommand(t *testing.T) {
	d := newDispatcher(&fakeController{}, &fakeNotifier{})
	a := action(rule.ActionInvokeControl)
	a.Payload = "reboot:everything"
	outcomes := d.Execute([]rule.Action{a})
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].OK)
	assert.Contains(t, outcomes[0].Message, "unknown control command")
}

func TestOutcomesPreserveOrder(t *testing.T) {
	d := newDispatcher(&fakeController{}, &fakeNotifier{})
	actions := []rule.Action{action(rule.ActionLogOnly), action(rule.ActionNotify), action(rule.ActionLogOnly)}
	outcomes := d.Execute(actions)
	require.Len(t, outcomes, 3)
	for i := range actions {
		assert.Equal(t, actions[i].Kind, outcomes[i].Action.Kind)
	}
}
