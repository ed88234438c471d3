package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"

	"github.com/customeros/mailbackend/api/handlers"
	"github.com/customeros/mailbackend/api/middleware"
	"github.com/customeros/mailbackend/internal/tracing"
)

const APP_SOURCE = "mailbackend-api"

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, deps handlers.Dependencies, apikey string) {
	// folder server ids may contain an escaped path separator
	r.UseRawPath = true
	r.UnescapePathValues = true

	r.Use(gin.Recovery())
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer()))

	apiHandlers := handlers.InitHandlers(deps)

	r.GET("/health", handlers.HealthCheck)

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  middleware.API_KEY_HEADER,
		ValidAPIKey: apikey,
	})

	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.CustomContextMiddleware(APP_SOURCE))
	api.Use(middleware.TracingMiddleware())
	{
		accounts := api.Group("/accounts")
		{
			accounts.GET("", apiHandlers.Accounts.List())
			accounts.POST("", apiHandlers.Accounts.Create())
			accounts.GET("/:id", apiHandlers.Accounts.Get())
			accounts.DELETE("/:id", apiHandlers.Accounts.Delete())

			accounts.GET("/:id/backend", apiHandlers.Backends.Capabilities())
			accounts.DELETE("/:id/backend", apiHandlers.Backends.Evict())
			accounts.POST("/:id/backend/check", apiHandlers.Backends.CheckSettings())

			accounts.POST("/:id/folders", apiHandlers.Backends.CreateFolder())
			accounts.POST("/:id/folders/refresh", apiHandlers.Backends.RefreshFolders())
			accounts.POST("/:id/folders/:folder/sync", apiHandlers.Backends.Sync())

			accounts.POST("/:id/messages", apiHandlers.Backends.SendMessage())
		}
	}
}
