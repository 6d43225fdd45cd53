package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/cv_score_server/config"
	"github.com/qs3c/cv_score_server/internal/api/handler"
	"github.com/qs3c/cv_score_server/internal/api/middleware"
)

type Router struct {
	cvHandler        *handler.CVHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	cvHandler *handler.CVHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		cvHandler:        cvHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api/v1")
	api.Use(middleware.Auth(r.cfg.JWT.Secret))
	{
		// WebSocket 进度推送
		api.GET("/ws", r.websocketHandler.Handle)

		cvs := api.Group("/cvs")
		{
			cvs.POST("/upload-url", r.cvHandler.UploadURL)
			cvs.POST("", r.cvHandler.Register)
			cvs.GET("", r.cvHandler.List)
			cvs.GET("/:id", r.cvHandler.Get)
			cvs.GET("/:id/logs", r.cvHandler.Logs)
			cvs.POST("/:id/process", r.cvHandler.Process)
			cvs.DELETE("/:id", r.cvHandler.Delete)
		}
	}

	return engine
}
