package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/bridgr/internal/control"
	"github.com/loykin/bridgr/internal/metrics"
)

// Controller is the slice of the control surface the management API
// exposes. Authentication of the operator is a separate identity
// service's job and happens in front of this router.
type Controller interface {
	List() ([]control.ProcessStatus, error)
	Start(name string) (control.Result, error)
	Stop(name string) (control.Result, error)
	Restart(name string) (control.Result, error)
	StopAll() ([]control.Result, error)
}

// Router provides embeddable HTTP handlers over the control client.
// Endpoints:
//
//	GET  {basePath}/status          full process table
//	POST {basePath}/start?name=...
//	POST {basePath}/stop?name=...
//	POST {basePath}/restart?name=...
//	POST {basePath}/stop-all
//	GET  {basePath}/healthz
//	GET  /metrics
type Router struct {
	ctl      Controller
	basePath string
	logger   *slog.Logger
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/api" results in /api/status, /api/start, ...
func NewRouter(ctl Controller, basePath string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{ctl: ctl, basePath: sanitizeBase(basePath), logger: logger}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/stop-all", r.handleStopAll)
	group.GET("/healthz", r.handleHealthz)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath string, ctl Controller, logger *slog.Logger) (*http.Server, error) {
	r := NewRouter(ctl, basePath, logger)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

func (r *Router) handleStatus(c *gin.Context) {
	statuses, err := r.ctl.List()
	if err != nil {
		r.writeControlError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, statuses)
}

func (r *Router) handleStart(c *gin.Context) {
	r.mutate(c, r.ctl.Start)
}

func (r *Router) handleStop(c *gin.Context) {
	r.mutate(c, r.ctl.Stop)
}

func (r *Router) handleRestart(c *gin.Context) {
	r.mutate(c, r.ctl.Restart)
}

func (r *Router) mutate(c *gin.Context, op func(string) (control.Result, error)) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name required"})
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._:-]"})
		return
	}
	res, err := op(name)
	if err != nil {
		r.writeControlError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleStopAll(c *gin.Context) {
	results, err := r.ctl.StopAll()
	if err != nil {
		r.writeControlError(c, err)
		return
	}
	if results == nil {
		results = []control.Result{}
	}
	writeJSON(c, http.StatusOK, results)
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"ok": true})
}

// writeControlError maps the control error taxonomy onto HTTP statuses:
// an unreachable daemon must look different to the operator than an
// unknown process name.
func (r *Router) writeControlError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, control.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, control.ErrRejected):
		status = http.StatusConflict
	case errors.Is(err, control.ErrUnreachable):
		status = http.StatusServiceUnavailable
	}
	r.logger.Warn("control call failed", "status", status, "error", err)
	writeJSON(c, status, errorResp{Error: err.Error()})
}
