package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appsvc "gopherai-cochat/internal/app"
	"gopherai-cochat/internal/bootstrap"
	"gopherai-cochat/internal/repository"
	"gopherai-cochat/internal/transport/http/handler"
	"gopherai-cochat/internal/transport/http/middleware"
	"gopherai-cochat/internal/transport/ws"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.Tracing(), middleware.AccessLog(), middleware.Metrics(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	var transcriptCache appsvc.TranscriptCache
	if app.Cache != nil {
		transcriptCache = app.Cache
	}

	messageService := appsvc.NewMessageService(
		repository.NewMessageRepository(app.MySQL),
		repository.NewWorkspaceRepository(app.MySQL),
		app.Broker,
		transcriptCache,
		app.Config.Broker.TopicPrefix,
	)
	relayService := appsvc.NewRelayService(messageService, app.Completion, app.RelayConfig())

	messageHandler := handler.NewMessageHandler(messageService)
	completionHandler := handler.NewCompletionHandler(relayService)
	subscriptionHandler := handler.NewSubscriptionHandler(
		messageService,
		ws.NewServer(app.Broker, app.Config.Broker.TopicPrefix),
	)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret, app.Config.Auth.Issuer))

	workspaces := v1.Group("/workspaces/:id")
	workspaces.GET("/messages", messageHandler.List)
	workspaces.POST("/messages", messageHandler.Submit)
	workspaces.POST("/completions", completionHandler.Stream)
	workspaces.GET("/ws", subscriptionHandler.Subscribe)

	messages := v1.Group("/messages")
	messages.PUT("/:id", messageHandler.Edit)
	messages.DELETE("/:id", messageHandler.Delete)

	return router
}
