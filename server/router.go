package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/binderyhq/bindery/config"
)

// NewRouter builds the device-facing gin engine. Every route lives under the
// path token a paired device embeds in its API root; the auth middleware
// resolves it to the owning user before any handler runs.
func NewRouter(cfg *config.Config, logger *zap.Logger, h *Handlers) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger.Named("http")))
	engine.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Authorization", "Content-Type", headerSyncToken},
	}))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	device := engine.Group("/:token")
	device.Use(h.Auth())
	{
		v1 := device.Group("/v1")
		v1.GET("/library/sync", h.Sync)
		v1.GET("/library/:uuid/metadata", h.Metadata)
		v1.GET("/library/:uuid/state", h.ReadingState)
		v1.PUT("/library/:uuid/state", h.UpdateReadingState)
		v1.DELETE("/library/:uuid", h.ArchiveItem)

		v1.POST("/library/tags", h.CreateTag)
		v1.PUT("/library/tags/:id", h.RenameTag)
		v1.DELETE("/library/tags/:id", h.DeleteTag)
		v1.POST("/library/tags/:id/items", h.AddTagItems)
		v1.POST("/library/tags/:id/items/delete", h.RemoveTagItems)

		v1.GET("/books/:uuid/image/*spec", h.Cover)

		v1.POST("/auth/device", h.AuthDevice)
		v1.POST("/auth/refresh", h.AuthRefresh)
		v1.GET("/initialization", h.Initialization)
		v1.GET("/user/profile", h.emptyObject)
		v1.GET("/user/loyalty/benefits", h.emptyObject)
		v1.GET("/user/wishlist", h.emptyObject)
		v1.GET("/deals", h.emptyObject)

		device.GET("/download/:id/:format", h.Download)
	}
	return engine
}

// requestLogger logs one line per request after it completes.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
		)
	}
}
