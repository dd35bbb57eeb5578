package router

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/intake-api/internal/handler"
	appointmenthandler "github.com/jwalitptl/intake-api/internal/handler/appointment"
	authhandler "github.com/jwalitptl/intake-api/internal/handler/auth"
	patienthandler "github.com/jwalitptl/intake-api/internal/handler/patient"
	uploadhandler "github.com/jwalitptl/intake-api/internal/handler/upload"
	"github.com/jwalitptl/intake-api/internal/middleware"
)

type Router struct {
	engine       *gin.Engine
	auth         *middleware.AuthMiddleware
	uploadH      *uploadhandler.Handler
	appointmentH *appointmenthandler.Handler
	patientH     *patienthandler.Handler
	authH        *authhandler.Handler
	h            *handler.Handler
	metrics      *routerMetrics
}

type routerMetrics struct {
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	errorTotal      *prometheus.CounterVec
}

type RouterConfig struct {
	RateLimit     rate.Limit
	RateBurst     int
	MaxBodyBytes  int64
	CORSConfig    middleware.CORSConfig
	MetricsPrefix string
}

func NewRouter(
	auth *middleware.AuthMiddleware,
	uploadH *uploadhandler.Handler,
	appointmentH *appointmenthandler.Handler,
	patientH *patienthandler.Handler,
	authH *authhandler.Handler,
	h *handler.Handler,
	config RouterConfig,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()

	r := &Router{
		engine:       engine,
		auth:         auth,
		uploadH:      uploadH,
		appointmentH: appointmentH,
		patientH:     patientH,
		authH:        authH,
		h:            h,
		metrics:      initRouterMetrics(config.MetricsPrefix),
	}

	sizeLimit := middleware.DefaultSizeLimitConfig()
	if config.MaxBodyBytes > 0 {
		sizeLimit.MaxUploadSize = config.MaxBodyBytes
	}
	sizeLimit.UploadPaths = []string{"/api/v1/uploads", "*/images"}

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.Logger(),
		middleware.ErrorHandler(),
		r.metricsMiddleware(),
		middleware.Timeout(middleware.DefaultTimeoutConfig()),
		middleware.CORS(config.CORSConfig),
		middleware.SizeLimit(sizeLimit),
	)

	if config.RateLimit > 0 {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	r.engine.GET("/health", r.h.HealthCheck)
	r.engine.GET("/metrics", r.h.MetricsHandler)

	api := r.engine.Group("/api/v1")

	health := api.Group("/health")
	{
		health.GET("/live", r.h.LivenessCheck)
		health.GET("/ready", r.h.ReadinessCheck)
	}

	// Public surface: code issuance plus the kiosk's appointment lookup.
	auth := api.Group("/auth")
	{
		auth.POST("/otp", r.authH.IssueCode)
		auth.POST("/verify", r.authH.VerifyCode)
	}
	api.GET("/appointments/:encounterId", r.appointmentH.GetAppointment)

	// Everything that mutates or browses records requires a session token.
	protected := api.Group("")
	protected.Use(r.auth.Authenticate())
	{
		protected.POST("/uploads", r.uploadH.Upload)
		protected.DELETE("/uploads/:fileId", r.uploadH.RemoveBatch)

		protected.GET("/appointments", r.appointmentH.ListAppointments)
		protected.PATCH("/appointments/:encounterId", r.appointmentH.PatchAppointment)
		protected.POST("/appointments/:encounterId/checkin", r.appointmentH.KioskCheckIn)
		protected.POST("/appointments/:encounterId/events", r.appointmentH.RecordEvents)
		protected.POST("/appointments/:encounterId/images", r.appointmentH.AttachImages)

		protected.GET("/patients", r.patientH.ListPatients)
		protected.GET("/patients/:acctNo", r.patientH.GetPatient)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func initRouterMetrics(prefix string) *routerMetrics {
	return &routerMetrics{
		requestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: prefix + "_request_duration_seconds",
				Help: "Duration of HTTP requests in seconds",
			},
			[]string{"method", "path", "status"},
		),
		requestTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		errorTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_errors_total",
				Help: "Total number of HTTP errors",
			},
			[]string{"method", "path", "type"},
		),
	}
}

func (r *Router) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()

		c.Next()

		status := fmt.Sprintf("%d", c.Writer.Status())
		duration := time.Since(start).Seconds()

		r.metrics.requestDuration.WithLabelValues(c.Request.Method, path, status).Observe(duration)
		r.metrics.requestTotal.WithLabelValues(c.Request.Method, path, status).Inc()

		if c.Writer.Status() >= 400 {
			r.metrics.errorTotal.WithLabelValues(c.Request.Method, path, "http").Inc()
		}
	}
}
