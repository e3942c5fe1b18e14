package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	sc "github.com/vibeapp/mediavault/internal/server/config"
)

// NewRouter wires the REST surface: the authenticated /api/v1 group, the
// pipeline-internal callback and the health probe.
func NewRouter(cfg *sc.Config, profiles ProfileAPI, media MediaAPI) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	profilesHandler := NewProfilesHandler(profiles)
	mediaHandler := NewMediaHandler(media)

	api := router.Group("/api/v1", authMiddleware([]byte(cfg.SecretKey)))
	{
		api.POST("/profiles", profilesHandler.Create)
		api.GET("/profiles", profilesHandler.List)
		api.GET("/profiles/:profileId/media", mediaHandler.List)
		api.POST("/profiles/:profileId/media", mediaHandler.Allocate)
		api.PUT("/profiles/:profileId/media", mediaHandler.Reorder)
		api.POST("/profiles/:profileId/media/:mediaId", mediaHandler.Complete)
		api.DELETE("/profiles/:profileId/media/:mediaId", mediaHandler.Delete)
	}

	internal := router.Group("/internal", pipelineTokenMiddleware(cfg.PipelineToken))
	{
		internal.POST("/pipeline/result", mediaHandler.PipelineResult)
	}

	return router
}
