package http

import (
	"github.com/gin-gonic/gin"

	"github.com/EternisAI/tunnel-manager/internal/api/http/handler"
	"github.com/EternisAI/tunnel-manager/internal/api/http/middleware"
	"github.com/EternisAI/tunnel-manager/internal/auth"
	"github.com/EternisAI/tunnel-manager/internal/reconcile"
)

type Services struct {
	Reconcile       *reconcile.Service
	Auth            *auth.Service
	Sweeper         handler.Sweeper
	Syncer          handler.Syncer
	DefaultProtocol string
}

func SetupRoute(engine *gin.Engine, config Config, srvs *Services) {
	engine.Use(middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(srvs.Reconcile.Protocols)
	engine.GET("/health", healthHandler.Check)

	v1 := engine.Group("/api/v1")

	authHandler := handler.NewAuthHandler(srvs.Auth)
	v1.POST("/auth/token", middleware.APIKeyAuth(config.AdminAPIKey), authHandler.Token)

	api := v1.Group("", middleware.Authenticate(config.AdminAPIKey, config.JWTSecret))

	clientHandler := handler.NewClientHandler(srvs.Reconcile, srvs.DefaultProtocol)
	clients := api.Group("/clients")
	clients.GET("", clientHandler.List)
	clients.GET("/:id", clientHandler.Get)
	clients.POST("", clientHandler.Create)
	clients.PATCH("/:id", clientHandler.Update)

	peerHandler := handler.NewPeerHandler(srvs.Reconcile, srvs.DefaultProtocol)
	peers := api.Group("/peers")
	peers.GET("", peerHandler.List)
	peers.GET("/client/:client_id", peerHandler.ListByClient)
	peers.POST("", peerHandler.Create)
	peers.DELETE("/:id", peerHandler.Delete)

	serverHandler := handler.NewServerHandler(srvs.Reconcile, srvs.DefaultProtocol)
	server := api.Group("/server")
	server.GET("/status", serverHandler.Status)
	server.GET("/traffic", serverHandler.Traffic)
	server.POST("/restart", middleware.RequireRole(auth.RoleAdmin), serverHandler.Restart)

	adminHandler := handler.NewAdminHandler(srvs.Sweeper, srvs.Syncer)
	admin := api.Group("/admin", middleware.RequireRole(auth.RoleAdmin))
	admin.POST("/cleanup", adminHandler.Cleanup)
	admin.POST("/sync", adminHandler.Sync)
}
