package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/PratikDhanave/event-projector/internal/models"
)

const maxQuarantineLimit = 1000

// QuarantineLister reads quarantine records for operator inspection.
type QuarantineLister interface {
	ListQuarantine(ctx context.Context, limit int) ([]models.QuarantineRecord, error)
}

// RegisterQuarantineRoutes registers the quarantine inspection endpoint.
//
// GET /quarantine?limit=N (default 100, max 1000), newest first
func RegisterQuarantineRoutes(r gin.IRoutes, lister QuarantineLister, log *zap.Logger) {
	r.GET("/quarantine", func(c *gin.Context) {
		limit := 100
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 || n > maxQuarantineLimit {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 1000"})
				return
			}
			limit = n
		}

		recs, err := lister.ListQuarantine(c.Request.Context(), limit)
		if err != nil {
			log.Error("Failed to list quarantine records", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"count":   len(recs),
			"records": recs,
		})
	})
}
