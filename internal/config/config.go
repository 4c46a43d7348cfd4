package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/bridgr/internal/control"
	"github.com/loykin/bridgr/internal/logger"
	"github.com/loykin/bridgr/internal/notify"
	"github.com/loykin/bridgr/internal/rule"
)

// Config is the top-level TOML structure, read once at startup and never
// hot-reloaded.
//
//	[log]
//	level = "info"
//	file = "/var/log/bridgr/bridgr.log"
//
//	[supervisor]
//	url = "unix:///var/run/supervisor.sock"
//	username = "ops"
//	password = "secret"
//	timeout = "5s"
//
//	[listener]
//	idle_timeout = "0s"
//
//	[notify]
//	url = "nats://127.0.0.1:4222"
//	subject = "bridgr.notify"
//
//	[server]
//	listen = ":8081"
//	base_path = "/api"
//
//	[[rules]]
//	id = "fatal-alert"
//	states = ["FATAL"]
//	action = "notify"
//	cooldown = "60s"
type Config struct {
	Log        logger.Config    `toml:"log" mapstructure:"log"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Listener   ListenerConfig   `toml:"listener" mapstructure:"listener"`
	Notify     NotifyConfig     `toml:"notify" mapstructure:"notify"`
	Server     ServerConfig     `toml:"server" mapstructure:"server"`
	Rules      []RuleConfig     `toml:"rules" mapstructure:"rules"`
}

// SupervisorConfig points at the daemon's control surface.
type SupervisorConfig struct {
	URL      string        `toml:"url" mapstructure:"url"`
	Username string        `toml:"username" mapstructure:"username"`
	Password string        `toml:"password" mapstructure:"password"`
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// ListenerConfig tunes the event channel.
type ListenerConfig struct {
	IdleTimeout time.Duration `toml:"idle_timeout" mapstructure:"idle_timeout"`
}

// NotifyConfig points at the outbound message queue. An empty URL keeps
// notifications in the operational log.
type NotifyConfig struct {
	URL     string        `toml:"url" mapstructure:"url"`
	Subject string        `toml:"subject" mapstructure:"subject"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// ServerConfig is the management API listen address.
type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

// RuleConfig is one [[rules]] entry.
type RuleConfig struct {
	ID        string        `toml:"id" mapstructure:"id"`
	States    []string      `toml:"states" mapstructure:"states"`
	Processes []string      `toml:"processes" mapstructure:"processes"`
	Action    string        `toml:"action" mapstructure:"action"`
	Dependent string        `toml:"dependent" mapstructure:"dependent"`
	Command   string        `toml:"command" mapstructure:"command"`
	Cooldown  time.Duration `toml:"cooldown" mapstructure:"cooldown"`
}

// Load reads and validates the TOML config at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

func (c *Config) validate() error {
	if c.Supervisor.URL == "" {
		return fmt.Errorf("supervisor.url required")
	}
	if c.Supervisor.Timeout < 0 {
		return fmt.Errorf("supervisor.timeout must not be negative")
	}
	if c.Listener.IdleTimeout < 0 {
		return fmt.Errorf("listener.idle_timeout must not be negative")
	}
	// Rule-level validation (unique ids, known actions) happens in the
	// rule engine; surface it here too so a bad config fails before the
	// protocol handshake starts.
	rules, err := c.BuildRules()
	if err != nil {
		return err
	}
	if _, err := rule.NewEngine(rules, nil); err != nil {
		return err
	}
	return nil
}

// BuildRules converts the [[rules]] entries into engine rules.
func (c *Config) BuildRules() ([]rule.Rule, error) {
	rules := make([]rule.Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		r := rule.Rule{
			ID:        rc.ID,
			States:    rc.States,
			Processes: rc.Processes,
			Action:    rule.ActionKind(rc.Action),
			Dependent: rc.Dependent,
			Command:   rc.Command,
			Cooldown:  rc.Cooldown,
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// ControlConfig maps the supervisor section onto the control client.
func (c *Config) ControlConfig() control.Config {
	return control.Config{
		URL:      c.Supervisor.URL,
		Username: c.Supervisor.Username,
		Password: c.Supervisor.Password,
		Timeout:  c.Supervisor.Timeout,
	}
}

// NotifierConfig maps the notify section onto the notifier.
func (c *Config) NotifierConfig() notify.Config {
	return notify.Config{
		URL:     c.Notify.URL,
		Subject: c.Notify.Subject,
		Timeout: c.Notify.Timeout,
	}
}
