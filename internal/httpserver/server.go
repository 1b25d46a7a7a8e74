package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/event-projector/internal/auth"
	"github.com/PratikDhanave/event-projector/internal/config"
	"github.com/PratikDhanave/event-projector/internal/handlers"
)

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the ops API.
type Deps struct {
	DB         Pinger
	Runner     handlers.Runner
	Quarantine handlers.QuarantineLister
	Logger     *zap.Logger
}

// NewRouter wires public endpoints and authenticated APIs.
// Public: /health, /ready
// Authenticated: /runs, /runs/last, /quarantine
func NewRouter(cfg config.Config, deps Deps) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: confirms the DB dependency is reachable.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := deps.DB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Auth group identifies the operator via X-API-Key.
	authGroup := r.Group("/")
	authGroup.Use(auth.APIKeyMiddleware(cfg.HTTP.OperatorKeys))

	handlers.RegisterRunRoutes(authGroup, deps.Runner, deps.Logger)
	handlers.RegisterQuarantineRoutes(authGroup, deps.Quarantine, deps.Logger)

	return r
}
