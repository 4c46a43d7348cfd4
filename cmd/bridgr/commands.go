package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/loykin/bridgr"
	"github.com/loykin/bridgr/internal/control"
)

type command struct {
	flags *GlobalFlags
}

func (c command) loadConfig() (*bridgr.Config, error) {
	if c.flags.ConfigPath == "" {
		return nil, fmt.Errorf("--config is required")
	}
	return bridgr.LoadConfig(c.flags.ConfigPath)
}

// Listen runs the bridge loop against the daemon's pipe on stdin/stdout.
// Any transport error exits non-zero so the daemon's restart policy for
// this listener recovers it.
func (c command) Listen() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	log := bridgr.NewLogger(cfg)
	slog.SetDefault(log)
	if err := bridgr.RegisterMetricsDefault(); err != nil {
		return err
	}

	b, err := bridgr.NewBridge(cfg, os.Stdin, os.Stdout, log)
	if err != nil {
		return err
	}
	if err := b.Run(); err != nil {
		log.Error("bridge terminated", "error", err)
		return err
	}
	return nil
}

// Serve runs the management API until SIGINT/SIGTERM.
func (c command) Serve() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	log := bridgr.NewLogger(cfg)
	slog.SetDefault(log)
	if err := bridgr.RegisterMetricsDefault(); err != nil {
		return err
	}

	ctl, err := bridgr.NewController(cfg)
	if err != nil {
		return err
	}
	addr := cfg.Server.Listen
	if addr == "" {
		addr = ":8081"
	}
	srv, err := bridgr.NewHTTPServer(addr, cfg.Server.BasePath, ctl, log)
	if err != nil {
		return err
	}
	log.Info("management api listening", "addr", addr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	return srv.Close()
}

func (c command) controller(f CtlFlags) (*control.Client, error) {
	cc := control.Config{
		URL:      f.URL,
		Username: f.Username,
		Password: f.Password,
		Timeout:  f.Timeout,
	}
	if cc.URL == "" {
		cfg, err := c.loadConfig()
		if err != nil {
			return nil, fmt.Errorf("no --url given and no usable config: %w", err)
		}
		cc = cfg.ControlConfig()
		if f.Timeout > 0 {
			cc.Timeout = f.Timeout
		}
	}
	return control.New(cc)
}

// CtlList prints the daemon's process table.
func (c command) CtlList(f CtlFlags) error {
	ctl, err := c.controller(f)
	if err != nil {
		return err
	}
	statuses, err := ctl.List()
	if err != nil {
		return err
	}
	printJSON(statuses)
	return nil
}

// CtlNamed runs a start/stop/restart against one process.
func (c command) CtlNamed(op, name string, f CtlFlags) error {
	ctl, err := c.controller(f)
	if err != nil {
		return err
	}
	var res control.Result
	switch op {
	case "start":
		res, err = ctl.Start(name)
	case "stop":
		res, err = ctl.Stop(name)
	case "restart":
		res, err = ctl.Restart(name)
	default:
		return fmt.Errorf("unknown ctl operation %q", op)
	}
	if err != nil {
		return err
	}
	printJSON(res)
	return nil
}

// CtlStopAll stops every running process and prints per-process outcomes.
func (c command) CtlStopAll(f CtlFlags) error {
	ctl, err := c.controller(f)
	if err != nil {
		return err
	}
	results, err := ctl.StopAll()
	if err != nil {
		return err
	}
	printJSON(results)
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
