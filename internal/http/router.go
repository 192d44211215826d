package http

import (
	"github.com/Latermedia/linearbot-sub003/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, h *Handlers) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).Msg("http")
	})

	r.GET("/healthz", h.Healthz)
	r.POST("/api/sync", h.TriggerSync)
	r.GET("/api/sync/status", h.SyncStatus)
	r.GET("/api/projects", h.Projects)
	r.GET("/api/projects/:id", h.ProjectDetail)
	r.GET("/api/issues", h.Issues)
	r.GET("/api/teams", h.Teams)
	r.GET("/api/engineers", h.Engineers)
	r.GET("/api/initiatives", h.Initiatives)
	r.GET("/api/trends", h.Trends)
	r.POST("/api/admin/reset", h.ResetStore)

	return r
}
