// Package gateway is the HTTP surface of Switchyard: tool execution behind
// kill switches and rate limits, session coordination, activity tracking,
// auto-commit and PR overlap endpoints.
package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/activity"
	"github.com/zulandar/switchyard/internal/autocommit"
	"github.com/zulandar/switchyard/internal/config"
	"github.com/zulandar/switchyard/internal/coordination"
	"github.com/zulandar/switchyard/internal/gitexec"
	"github.com/zulandar/switchyard/internal/killswitch"
	"github.com/zulandar/switchyard/internal/notify"
	"github.com/zulandar/switchyard/internal/prwatch"
	"github.com/zulandar/switchyard/internal/ratelimit"
	"github.com/zulandar/switchyard/internal/session"
	"github.com/zulandar/switchyard/internal/usage"
)

// shutdownTimeout bounds graceful shutdown once ctx is cancelled.
const shutdownTimeout = 10 * time.Second

// Deps are the components the handlers serve.
type Deps struct {
	Config       *config.Config
	Sessions     *session.Registry
	Activity     *activity.Tracker
	Locks        *coordination.Manager
	AutoCommit   *autocommit.Pipeline
	PRWatch      *prwatch.Watcher
	KillSwitches *killswitch.Registry
	Limiter      *ratelimit.Limiter
	Usage        *usage.Log
	Runner       gitexec.Runner
	Notifier     *notify.Notifier
	Version      string
}

func (d Deps) validate() error {
	switch {
	case d.Config == nil:
		return fmt.Errorf("gateway: config is required")
	case d.Sessions == nil, d.Activity == nil, d.Locks == nil, d.AutoCommit == nil, d.PRWatch == nil:
		return fmt.Errorf("gateway: session, activity, lock, auto-commit and pr-watch components are required")
	case d.KillSwitches == nil, d.Limiter == nil, d.Usage == nil, d.Runner == nil:
		return fmt.Errorf("gateway: kill switch, limiter, usage and runner are required")
	}
	return nil
}

// StartOpts holds configuration for the gateway server.
type StartOpts struct {
	Deps Deps
	Port int
	Out  io.Writer
	// AccessLog receives one line per request when set.
	AccessLog io.Writer
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(d Deps, accessLog io.Writer) (*gin.Engine, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if accessLog != nil {
		router.Use(gin.LoggerWithWriter(accessLog))
	}

	registerRoutes(router, &server{Deps: d})
	return router, nil
}

// Start launches the gateway. It blocks until ctx is cancelled, then shuts
// down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	router, err := NewRouter(opts.Deps, opts.AccessLog)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = opts.Deps.Config.Server.Port
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Switchyard gateway listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway: %w", err)
	}
	return nil
}

// server carries the dependencies into the handlers.
type server struct {
	Deps
}
