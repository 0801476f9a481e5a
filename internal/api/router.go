package api

import (
	"github.com/gin-gonic/gin"
	"github.com/timmy/docpipe/internal/api/handler"
	"github.com/timmy/docpipe/internal/api/middleware"
	"github.com/timmy/docpipe/internal/config"
	"github.com/timmy/docpipe/internal/domain"
	"github.com/timmy/docpipe/internal/logger"
	"github.com/timmy/docpipe/internal/service"
)

// Services bundles what the HTTP layer depends on.
type Services struct {
	Auth      *service.AuthService
	Users     *service.UserService
	Documents *service.DocumentService
	Ingestion *service.IngestionService
	Tokens    middleware.TokenValidator
	DB        handler.Pinger
	Broker    handler.BrokerStatus
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(svc *Services, cfg *config.ServerConfig, log *logger.Logger) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	if cfg.MaxUploadSizeMB > 0 {
		r.MaxMultipartMemory = cfg.MaxUploadSizeMB << 20
	}

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(cfg.CORS))

	healthHandler := handler.NewHealthHandler(svc.DB, svc.Broker)
	authHandler := handler.NewAuthHandler(svc.Auth)
	userHandler := handler.NewUserHandler(svc.Users)
	documentHandler := handler.NewDocumentHandler(svc.Documents)
	ingestionHandler := handler.NewIngestionHandler(svc.Ingestion)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/login", authHandler.Login)

		secured := v1.Group("")
		secured.Use(middleware.Authenticate(svc.Tokens, svc.Users))

		admin := middleware.RequireRoles(domain.RoleAdmin)
		writers := middleware.RequireRoles(domain.RoleAdmin, domain.RoleEditor)

		// Users
		users := secured.Group("/users")
		users.GET("/profile", userHandler.Profile)
		users.GET("", admin, userHandler.List)
		users.GET("/:id", admin, userHandler.Get)
		users.PATCH("/:id/role", admin, userHandler.UpdateRole)

		// Documents
		documents := secured.Group("/documents", writers)
		documents.POST("/upload", documentHandler.Upload)
		documents.GET("", documentHandler.List)
		documents.GET("/:id", documentHandler.Get)
		documents.DELETE("/:id", documentHandler.Delete)

		// Ingestion
		ingestion := secured.Group("/ingestion", writers)
		ingestion.POST("/start/:id", ingestionHandler.Start)
		ingestion.GET("/logs/:documentId", ingestionHandler.Logs)
	}

	return r
}
