package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kolo/xmlrpc"

	"github.com/loykin/bridgr/internal/metrics"
)

// DefaultTimeout bounds every control call unless configured otherwise.
const DefaultTimeout = 5 * time.Second

// Config describes the daemon's control endpoint. URL accepts the inet
// form (http://127.0.0.1:9001/RPC2) or the local socket form
// (unix:///var/run/supervisor.sock).
type Config struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

// ProcessStatus is one row of the daemon's process table.
type ProcessStatus struct {
	Name        string `json:"name"`
	Group       string `json:"group"`
	State       string `json:"state"`
	PID         int    `json:"pid"`
	Description string `json:"description,omitempty"`
}

// Result reports the outcome of one mutating command.
type Result struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// processInfo mirrors the daemon's getProcessInfo struct; only the fields
// the bridge consumes are decoded.
type processInfo struct {
	Name        string `xmlrpc:"name"`
	Group       string `xmlrpc:"group"`
	Statename   string `xmlrpc:"statename"`
	State       int    `xmlrpc:"state"`
	PID         int    `xmlrpc:"pid"`
	Description string `xmlrpc:"description"`
}

// Client is the bridge's handle on the daemon's control surface. It is
// safe for concurrent use: the automatic dispatcher and the management API
// share one client, serialized to a single in-flight call so a slow daemon
// cannot fan out stuck connections. The per-call timeout lives in the HTTP
// transport, so the serialization lock is always released on expiry.
type Client struct {
	mu  sync.Mutex
	rpc *xmlrpc.Client
}

// New builds a client for the configured endpoint. The connection is
// established lazily per call and reused by the underlying transport, so a
// failed call never poisons the next one.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("control: endpoint url required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	endpoint, transport, err := buildTransport(cfg)
	if err != nil {
		return nil, err
	}
	rpc, err := xmlrpc.NewClient(endpoint, transport)
	if err != nil {
		return nil, fmt.Errorf("control: build rpc client: %w", err)
	}
	return &Client{rpc: rpc}, nil
}

func buildTransport(cfg Config) (string, http.RoundTripper, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", nil, fmt.Errorf("control: parse endpoint url: %w", err)
	}
	base := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: cfg.Timeout}).DialContext,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
	}
	endpoint := cfg.URL
	if u.Scheme == "unix" {
		socket := u.Path
		if socket == "" {
			socket = u.Opaque
		}
		base.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: cfg.Timeout}
			return d.DialContext(ctx, "unix", socket)
		}
		// Host is a placeholder; the dialer above ignores it.
		endpoint = "http://unix/RPC2"
	} else if u.Path == "" || u.Path == "/" {
		endpoint = strings.TrimRight(cfg.URL, "/") + "/RPC2"
	}
	return endpoint, &authTransport{base: base, username: cfg.Username, password: cfg.Password}, nil
}

// authTransport injects the configured credential pair as basic auth on
// every request.
type authTransport struct {
	base     http.RoundTripper
	username string
	password string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}
	return t.base.RoundTrip(req)
}

// List returns the daemon's full process table.
func (c *Client) List() ([]ProcessStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list()
}

// Start asks the daemon to start a registered process and reports the
// state it landed in.
func (c *Client) Start(name string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.start(name)
}

// Stop asks the daemon to stop a process.
func (c *Client) Stop(name string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stop(name)
}

// Restart is stop-then-start. When Stop is refused because the process is
// not running, Start still proceeds; a transport failure aborts before
// Start so the daemon is never told to start a process in unknown state.
func (c *Client) Restart(name string) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.stop(name); err != nil && !errors.Is(err, ErrRejected) {
		return Result{}, fmt.Errorf("restart %s: %w", name, err)
	}
	res, err := c.start(name)
	if err != nil {
		return Result{}, fmt.Errorf("restart %s: %w", name, err)
	}
	res.Message = "restarted: " + res.Message
	return res, nil
}

// StopAll stops every currently running process and aggregates per-process
// outcomes; one refused stop never fails the whole call. An empty process
// table yields an empty result list.
func (c *Client) StopAll() ([]Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses, err := c.list()
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(statuses))
	for _, st := range statuses {
		if !stateRunning(st.State) {
			continue
		}
		res, err := c.stop(st.Name)
		if err != nil {
			results = append(results, Result{Name: st.Name, OK: false, Message: err.Error()})
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

// --- unlocked internals ---

func (c *Client) list() ([]ProcessStatus, error) {
	var infos []processInfo
	if err := c.call("supervisor.getAllProcessInfo", nil, &infos); err != nil {
		return nil, err
	}
	statuses := make([]ProcessStatus, 0, len(infos))
	for _, in := range infos {
		statuses = append(statuses, statusFrom(in))
	}
	return statuses, nil
}

func (c *Client) start(name string) (Result, error) {
	var ack bool
	if err := c.call("supervisor.startProcess", []interface{}{name, true}, &ack); err != nil {
		return Result{}, err
	}
	info, err := c.info(name)
	if err != nil {
		return Result{}, err
	}
	ok := info.Statename == "STARTING" || info.Statename == "RUNNING"
	return Result{Name: name, OK: ok, Message: fmt.Sprintf("%s state=%s", name, info.Statename)}, nil
}

func (c *Client) stop(name string) (Result, error) {
	var ack bool
	if err := c.call("supervisor.stopProcess", []interface{}{name, true}, &ack); err != nil {
		return Result{}, err
	}
	info, err := c.info(name)
	if err != nil {
		return Result{}, err
	}
	ok := stateStopped(info.Statename)
	return Result{Name: name, OK: ok, Message: fmt.Sprintf("%s state=%s", name, info.Statename)}, nil
}

func (c *Client) info(name string) (processInfo, error) {
	var info processInfo
	if err := c.call("supervisor.getProcessInfo", []interface{}{name}, &info); err != nil {
		return processInfo{}, err
	}
	return info, nil
}

func (c *Client) call(method string, args interface{}, reply interface{}) error {
	start := time.Now()
	err := c.rpc.Call(method, args, reply)
	mapped := translateErr(err)
	metrics.ObserveControlCall(shortMethod(method), mapped == nil, time.Since(start).Seconds())
	return mapped
}

// faultRe matches the rendered form of an XML-RPC fault. The rpc codec
// surfaces daemon faults either as a typed FaultError or flattened into a
// net/rpc server-error string; both carry this shape.
var faultRe = regexp.MustCompile(`Fault\((\d+)\): (.*)`)

// translateErr maps daemon faults and transport failures into the typed
// error taxonomy.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	code, msg, ok := faultOf(err)
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	switch code {
	case faultBadName:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case faultAlreadyStarted, faultNotRunning, faultSpawnError:
		return fmt.Errorf("%w: %s", ErrRejected, msg)
	default:
		return fmt.Errorf("%w: fault %d %s", ErrRejected, code, msg)
	}
}

func faultOf(err error) (code int, msg string, ok bool) {
	var fe xmlrpc.FaultError
	var fep *xmlrpc.FaultError
	switch {
	case errors.As(err, &fep):
		return fep.Code, fep.String, true
	case errors.As(err, &fe):
		return fe.Code, fe.String, true
	}
	var serverErr rpc.ServerError
	if errors.As(err, &serverErr) {
		if m := faultRe.FindStringSubmatch(string(serverErr)); m != nil {
			code, _ = strconv.Atoi(m[1])
			return code, m[2], true
		}
	}
	return 0, "", false
}

func statusFrom(in processInfo) ProcessStatus {
	return ProcessStatus{
		Name:        in.Name,
		Group:       in.Group,
		State:       in.Statename,
		PID:         in.PID,
		Description: in.Description,
	}
}

func stateRunning(state string) bool {
	switch state {
	case "RUNNING", "STARTING", "BACKOFF":
		return true
	}
	return false
}

func stateStopped(state string) bool {
	switch state {
	case "STOPPED", "STOPPING", "EXITED", "FATAL":
		return true
	}
	return false
}

func shortMethod(method string) string {
	if i := strings.IndexByte(method, '.'); i >= 0 {
		return method[i+1:]
	}
	return method
}
