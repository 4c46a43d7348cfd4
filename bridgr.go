package bridgr

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/bridgr/internal/bridge"
	cfg "github.com/loykin/bridgr/internal/config"
	"github.com/loykin/bridgr/internal/control"
	"github.com/loykin/bridgr/internal/dispatch"
	"github.com/loykin/bridgr/internal/logger"
	"github.com/loykin/bridgr/internal/metrics"
	"github.com/loykin/bridgr/internal/notify"
	"github.com/loykin/bridgr/internal/protocol"
	"github.com/loykin/bridgr/internal/rule"
	iapi "github.com/loykin/bridgr/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type Rule = rule.Rule

type Action = rule.Action

type ProcessStatus = control.ProcessStatus

type ControlResult = control.Result

// Controller is the daemon control surface, usable directly by an
// embedding management layer.
type Controller = control.Client

// Bridge is the event-loop driver.
type Bridge = bridge.Bridge

// LoadConfig reads and validates the TOML config at path.
func LoadConfig(path string) (*Config, error) {
	return cfg.Load(path)
}

// NewLogger builds the operational logger for the given config.
func NewLogger(c *Config) *slog.Logger {
	return logger.New(c.Log)
}

// NewController builds a control client for the configured daemon endpoint.
func NewController(c *Config) (*Controller, error) {
	return control.New(c.ControlConfig())
}

// NewBridge wires framer, rule engine, notifier and dispatcher over the
// given event-channel pipe. r and w are the daemon-facing duplex stream,
// normally os.Stdin and os.Stdout.
func NewBridge(c *Config, r io.Reader, w io.Writer, log *slog.Logger) (*Bridge, error) {
	if log == nil {
		log = NewLogger(c)
	}
	rules, err := c.BuildRules()
	if err != nil {
		return nil, err
	}
	engine, err := rule.NewEngine(rules, nil)
	if err != nil {
		return nil, err
	}
	ctl, err := NewController(c)
	if err != nil {
		return nil, err
	}
	notifier, err := notify.New(c.NotifierConfig(), log)
	if err != nil {
		return nil, err
	}
	framer := protocol.New(r, w, c.Listener.IdleTimeout)
	dispatcher := dispatch.New(ctl, notifier, log)
	return bridge.New(framer, engine, dispatcher, log, nil), nil
}

// NewHTTPServer starts the management API server on addr using the given
// controller. Operator authentication belongs to the identity service in
// front of it.
func NewHTTPServer(addr, basePath string, ctl *Controller, log *slog.Logger) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, ctl, log)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler exposes /metrics for embedding in another mux.
func MetricsHandler() http.Handler { return metrics.Handler() }
