package router

import (
	"github.com/gin-gonic/gin"

	"mrpulse.app/dashboard/internal/http/handler"
)

type Handlers struct {
	MergeRequests *handler.MergeRequestHandler
	Stream        *handler.StreamHandler
}

func SetupRoutes(router *gin.Engine, h Handlers) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		UserRouter(v1.Group("/users/:username"), h)
	}
}

func UserRouter(rg *gin.RouterGroup, h Handlers) {
	rg.GET("/merge_requests/:kind", h.MergeRequests.Show)
	rg.GET("/merge_requests/:kind/stream", h.Stream.Stream)
	rg.GET("/monthly_merged_count", h.MergeRequests.MonthlyMergedCount)
}
