// Package httpapi serves the control API: commands in, snapshots out.
//
// Routes:
//
//	POST /api/commands       {type, ...payload} -> engine.Result
//	GET  /api/snapshot       current engine.Snapshot
//	GET  /api/events         server-sent events (snapshot, lifecycle)
//	GET  /api/settings       settings.json
//	PUT  /api/settings       validated replace
//	GET  /api/domains        domains.json
//	PUT  /api/domains        replace
//	GET  /api/projects       projects from the live snapshot
//	POST /api/proxies/test   probe every proxy, write statuses back
//	GET  /healthz            goroutine supervisor view, no auth
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"linkrunner/internal/engine"
	"linkrunner/internal/eventbus"
	"linkrunner/internal/model"
	"linkrunner/internal/proxy"
	logx "linkrunner/pkg/logx"
)

// Engine is the command and snapshot surface the API drives.
type Engine interface {
	Do(ctx context.Context, cmd engine.Command) (engine.Result, error)
	Snapshot() engine.Snapshot
	Bus() eventbus.Bus
}

// Store is the document access the API needs.
type Store interface {
	LoadSettings(ctx context.Context) (model.Settings, error)
	SaveSettings(ctx context.Context, st model.Settings) error
	LoadPools(ctx context.Context) (model.DomainPools, error)
	SavePools(ctx context.Context, p model.DomainPools) error
}

type ProxyTester interface {
	TestAll(ctx context.Context) ([]proxy.Result, error)
}

type Deps struct {
	Engine  Engine
	Store   Store
	Proxies ProxyTester
	// Health returns a JSON-serializable process view for /healthz.
	Health func() any
}

type Config struct {
	Addr            string
	Token           string
	ShutdownTimeout time.Duration
	// CommandTimeout bounds a command round trip through the mailbox.
	CommandTimeout time.Duration
	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 15 * time.Second
	}
	return c
}

type Server struct {
	cfg    Config
	deps   Deps
	log    logx.Logger
	router *gin.Engine
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg.withDefaults(), deps: deps, log: log.With(logx.String("comp", "httpapi"))}

	r := gin.New()
	r.Use(recovery(s.log), requestLog(s.log))
	r.GET("/healthz", s.health)

	api := r.Group("/api", bearerAuth(s.cfg.Token))
	api.POST("/commands", s.command)
	api.GET("/snapshot", s.snapshot)
	api.GET("/events", s.events)
	api.GET("/settings", s.getSettings)
	api.PUT("/settings", s.putSettings)
	api.GET("/domains", s.getDomains)
	api.PUT("/domains", s.putDomains)
	api.GET("/projects", s.projects)
	api.POST("/proxies/test", s.testProxies)

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.log.Info("api listening", logx.String("addr", ln.Addr().String()), logx.Bool("auth", s.cfg.Token != ""))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		_ = srv.Close()
		s.log.Warn("api shutdown forced", logx.Err(err))
	}
	<-errCh
	s.log.Info("api stopped")
	return nil
}
