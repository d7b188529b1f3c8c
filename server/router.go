package server

import (
	"strings"
	"time"

	"publish-pipeline/infrastructure/configuration"
	httpHandler "publish-pipeline/interfaces/http"
	"publish-pipeline/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups what the router mounts. Everything but Publish may be nil when not configured.
type Handlers struct {
	Publish httpHandler.IPublishHandler
	OAuth   httpHandler.IOAuthHandler
	Media   httpHandler.IMediaHandler
	History httpHandler.IHistoryHandler
	Events  gin.HandlerFunc
}

func InitiateRouter(app configuration.App, publish configuration.Publish, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	origins := allowedOrigins(app.FrontendURL)
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", h.Publish.Healthz)

	// The OAuth callback is opened by the platform in the user's browser, so it stays outside /api.
	if h.OAuth != nil {
		router.GET("/auth/:provider", h.OAuth.GetAuthURL)
		router.GET("/auth/:provider/callback", h.OAuth.Callback)
	}

	api := router.Group("api")
	api.Use(middleware.Auth(app.SecretKey))
	api.Use(middleware.NewRateLimiter(publish.RequestsPerMinute).Handler())

	api.GET("/providers", h.Publish.Providers)
	api.POST("/publish/:integrationID", h.Publish.Publish)
	if h.Media != nil {
		api.POST("/media", h.Media.Upload)
	}
	if h.History != nil {
		api.GET("/integrations/:integrationID/history", h.History.List)
	}
	if h.OAuth != nil {
		api.GET("/integrations/:integrationID/pages", h.OAuth.Pages)
		api.POST("/integrations/:integrationID/pages", h.OAuth.SelectPage)
	}
	if h.Events != nil {
		api.GET("/events", h.Events)
	}

	return router
}

// allowedOrigins accepts a comma separated list so several frontends can share one deployment.
func allowedOrigins(frontendURL string) []string {
	var out []string
	for _, o := range strings.Split(frontendURL, ",") {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		out = []string{"http://localhost:4200"}
	}
	return out
}
