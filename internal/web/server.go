// Package web serves the relay-scheduler status page and REST API.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sweeney/relay-scheduler/internal/mqtt"
	"github.com/sweeney/relay-scheduler/internal/schedule"
	"github.com/sweeney/relay-scheduler/internal/status"
)

// Options configures a Server.
type Options struct {
	Addr     string
	Tracker  *status.Tracker
	Registry *schedule.Registry

	// Publisher receives MANUAL events for relay-control calls. May be nil.
	Publisher mqtt.Publisher

	// Rate and Burst limit mutating API calls per client address.
	Rate  float64
	Burst int

	Log *zap.Logger
}

// Server serves the status page and the /api routes over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	reg        *schedule.Registry
	pub        mqtt.Publisher
	limiters   *RateLimiterStore
	log        *zap.Logger
}

// New creates a Server. Its routes read from opts.Tracker and opts.Registry.
func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	s := &Server{
		tracker:  opts.Tracker,
		reg:      opts.Registry,
		pub:      opts.Publisher,
		limiters: NewRateLimiterStore(rate.Limit(opts.Rate), opts.Burst),
		log:      opts.Log,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/", s.handleIndex)
	engine.GET("/index.html", s.handleIndex)
	engine.GET("/index.json", s.handleJSON)
	engine.GET("/healthz", s.HealthCheck)

	api := engine.Group("/api")
	api.GET("/all-relays", s.GetAllRelays)
	api.GET("/relay-alarms/:relayId", s.GetRelayAlarms)
	api.GET("/server-time", s.GetServerTime)
	api.GET("/settings", s.GetSettings)
	api.GET("/next-alarms", s.GetNextAlarms)

	limited := api.Group("", s.limiters.Middleware())
	limited.POST("/relay-control", s.PostRelayControl)
	limited.POST("/relay-alarm", s.PostRelayAlarm)
	limited.PUT("/relay-alarm/:relayId/:alarmId", s.PutRelayAlarm)
	limited.DELETE("/relay-alarm/:relayId/:alarmId", s.DeleteRelayAlarm)
	limited.POST("/server-time", s.PostServerTime)
	limited.POST("/settings", s.PostSettings)

	s.httpServer = &http.Server{
		Addr:    opts.Addr,
		Handler: engine,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(c *gin.Context) {
	snap := s.tracker.Snapshot()
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := renderHTML(c.Writer, snap); err != nil {
		s.log.Error("render status page", zap.Error(err))
	}
}

func (s *Server) handleJSON(c *gin.Context) {
	snap := s.tracker.Snapshot()
	c.Data(http.StatusOK, "application/json", status.FormatJSON(snap))
}
