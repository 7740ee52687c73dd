package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/docmigrate/internal/domain"
	"github.com/persistorai/docmigrate/internal/middleware"
)

// RouterDeps holds everything the router needs.
type RouterDeps struct {
	Log         *logrus.Logger
	DB          HealthChecker
	Verifier    domain.BackupVerifier
	History     domain.VerificationHistory
	CORSOrigins []string
	Version     string
}

// Verification triggers per client IP.
const (
	triggersPerMinute = 6
	triggerBurst      = 2
)

func setupMiddleware(r *gin.Engine, deps *RouterDeps) {
	r.SetTrustedProxies(nil) //nolint:errcheck // nil always succeeds.
	r.Use(middleware.RequestID(deps.Log))
	r.Use(middleware.RequestLogger(deps.Log))
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: deps.CORSOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", middleware.RequestIDHeader},
		MaxAge:       1 * time.Hour,
	}))
	r.Use(middleware.Prometheus())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func registerRoutes(ctx context.Context, api *gin.RouterGroup, deps *RouterDeps) {
	health := NewHealthHandler(deps.DB, deps.Log, deps.Version)
	api.GET("/health", health.Liveness)

	if deps.Verifier == nil || deps.History == nil {
		return
	}

	verifications := NewVerificationHandler(deps.Verifier, deps.History, deps.Log)
	limiter := middleware.NewRateLimiter(ctx, triggersPerMinute, triggerBurst)

	api.POST("/backup-verifications", limiter.Handler(), verifications.Trigger)
	api.GET("/backup-verifications/latest", verifications.Latest)
}

// NewRouter creates the gin engine. ctx bounds background work such as rate
// limiter eviction.
func NewRouter(ctx context.Context, deps *RouterDeps) http.Handler {
	r := gin.New()
	setupMiddleware(r, deps)
	registerRoutes(ctx, r.Group("/api/v1"), deps)

	return r
}
