package api

import (
	"net/http"
	"time"

	"trigger-engine/internal/engine"
	"trigger-engine/internal/events"
	"trigger-engine/internal/market"
	"trigger-engine/internal/monitor"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Server wires HTTP endpoints around the engine and its event bus.
type Server struct {
	Router            *gin.Engine
	Engine            engine.Service
	Bus               *events.Bus
	Metrics           *monitor.Metrics
	Gatherer          prometheus.Gatherer
	JWTSecret         string
	WebhookSecretHash string
}

// Options configures NewServer.
type Options struct {
	Engine            engine.Service
	Bus               *events.Bus
	Metrics           *monitor.Metrics
	Gatherer          prometheus.Gatherer
	JWTSecret         string
	WebhookSecretHash string
	RateLimit         rate.Limit
	RateBurst         int
	RequestTimeout    time.Duration
}

func NewServer(opts Options) *Server {
	if opts.RateLimit == 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = 50
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger())
	r.Use(RateLimitMiddleware(newIPLimiters(opts.RateLimit, opts.RateBurst)))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:            r,
		Engine:            opts.Engine,
		Bus:               opts.Bus,
		Metrics:           opts.Metrics,
		Gatherer:          opts.Gatherer,
		JWTSecret:         opts.JWTSecret,
		WebhookSecretHash: opts.WebhookSecretHash,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})))
	s.Router.GET("/ws", s.websocket)
	s.Router.POST("/webhook", s.webhook)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)

		// Protected API
		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.GET("/status", s.getMonitoringStatus)
			protected.GET("/orders", s.getOrders)
			protected.GET("/orders/active", s.getActiveOrders)
			protected.POST("/monitor", s.addMonitoring)
			protected.DELETE("/monitor/:id", s.cancelMonitoring)
			protected.POST("/feed/reconnect", s.reconnectFeed)
			protected.GET("/metrics", s.getExecutionMetrics)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	if s.Engine != nil {
		feed := s.Engine.FeedState()
		body["feed"] = feed
		if feed == market.StateFailed {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}

// Handler exposes the router for http.Server.
func (s *Server) Handler() http.Handler { return s.Router }
