package api

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/newsfeed/config"
	_ "github.com/d60-Lab/newsfeed/docs"
	"github.com/d60-Lab/newsfeed/internal/api/handler"
	"github.com/d60-Lab/newsfeed/internal/api/middleware"
)

// SetupRouter 注册中间件与路由
func SetupRouter(cfg *config.Config, h *handler.Handler) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(),
		middleware.AccessLog(),
		otelgin.Middleware(cfg.Tracing.ServiceName),
		gzip.Gzip(gzip.DefaultCompression),
	)

	r.GET("/healthz", h.Health)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	v1.Use(
		middleware.RateLimit(middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)),
		middleware.Timeout(cfg.Server.RequestTimeout),
	)
	auth := middleware.Auth(cfg.JWT.Secret)

	fd := v1.Group("/feed")
	{
		fd.GET("", auth, h.GetMyFeed)
		fd.POST("/heat", h.HeatAll)
		fd.POST("/heat/:user_id", h.HeatUser)
		fd.GET("/stats", h.Stats)
	}
	v1.GET("/users/:user_id/feed", h.GetUserFeed)

	posts := v1.Group("/posts")
	{
		posts.POST("", auth, h.CreatePost)
		posts.GET("/:id", h.GetPost)
		posts.POST("/:id/like", auth, h.LikePost)
		posts.POST("/:id/view", auth, h.ViewPost)
	}

	rel := v1.Group("/relations")
	{
		rel.POST("/follow", auth, h.Follow)
		rel.POST("/unfollow", auth, h.Unfollow)
		rel.GET("/:user_id/following", h.ListFollowing)
		rel.GET("/:user_id/fans", h.ListFans)
	}
	return r
}
