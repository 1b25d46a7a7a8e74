package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/event-projector/internal/auth"
	"github.com/PratikDhanave/event-projector/internal/engine"
)

// Runner triggers projector runs and reports the latest one.
type Runner interface {
	Run(ctx context.Context, opts engine.Options) (engine.Report, error)
	LastReport() (engine.Report, bool)
}

// RegisterRunRoutes registers the run control endpoints.
//
// POST /runs?stage=all|fetch|project
// - Runs synchronously; 200 with the report on success
// - 409 when another run holds the lock
// - 500 with the report when the run failed
//
// GET /runs/last
// - 404 until a run has finished
func RegisterRunRoutes(r gin.IRoutes, runner Runner, log *zap.Logger) {
	r.POST("/runs", func(c *gin.Context) {
		opts, ok := parseStage(c.DefaultQuery("stage", "all"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "stage must be all, fetch or project"})
			return
		}

		log.Info("Run requested", zap.String("operator", auth.Operator(c)), zap.String("stage", c.DefaultQuery("stage", "all")))

		rep, err := runner.Run(c.Request.Context(), opts)
		switch {
		case errors.Is(err, engine.ErrRunInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case err != nil:
			c.JSON(http.StatusInternalServerError, rep)
		default:
			c.JSON(http.StatusOK, rep)
		}
	})

	r.GET("/runs/last", func(c *gin.Context) {
		rep, ok := runner.LastReport()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no run has finished yet"})
			return
		}
		c.JSON(http.StatusOK, rep)
	})
}

func parseStage(stage string) (engine.Options, bool) {
	switch stage {
	case "all", "":
		return engine.Options{Fetch: true, Project: true}, true
	case "fetch":
		return engine.Options{Fetch: true}, true
	case "project":
		return engine.Options{Project: true}, true
	default:
		return engine.Options{}, false
	}
}
