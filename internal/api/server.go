package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"blingsync/internal/api/handlers"
	"blingsync/internal/api/middleware"
	"blingsync/internal/config"
	"blingsync/internal/database"
	"blingsync/internal/events"
	"blingsync/internal/logger"
	"blingsync/internal/repository"
	"blingsync/internal/token"
)

// Dependencies are the services the handlers call into. Requests is nil
// when Kafka is not configured.
type Dependencies struct {
	Tokens     token.Store
	Refresher  handlers.Refresher
	Authorizer handlers.Authorizer
	Contacts   handlers.ContactClient
	Requests   events.Publisher
}

type Server struct {
	config *config.Config
	logger *logger.Logger
	db     *database.Database
	router *gin.Engine
	server *http.Server
}

func New(cfg *config.Config, logger *logger.Logger, db *database.Database, deps Dependencies) *Server {
	// Set Gin mode
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	// Initialize handlers
	tokenHandler := handlers.NewTokenHandler(deps.Tokens, deps.Refresher, logger)
	oauthHandler := handlers.NewOAuthHandler(deps.Authorizer, logger)
	contactHandler := handlers.NewContactHandler(deps.Contacts, logger)
	productHandler := handlers.NewProductHandler(db.DB, logger)
	customerHandler := handlers.NewCustomerHandler(db.DB, logger)
	syncHandler := handlers.NewSyncHandler(repository.NewRunLog(db.DB), deps.Requests, logger)

	router.GET("/healthz", handlers.Health(db))

	// Routes
	v1 := router.Group("/api/v1")
	{
		// Token monitor
		v1.GET("/token", tokenHandler.Status)
		v1.POST("/token/refresh", tokenHandler.Refresh)

		// Authorization code grant, used when the refresh token was rejected
		oauth := v1.Group("/oauth")
		{
			oauth.GET("/authorize", oauthHandler.Authorize)
			oauth.GET("/callback", oauthHandler.Callback)
		}

		// Live Bling lookups
		v1.GET("/contacts/:id", contactHandler.Get)

		// Synced catalog
		products := v1.Group("/products")
		{
			products.GET("", productHandler.List)
			products.GET("/:id", productHandler.Get)
		}

		customers := v1.Group("/customers")
		{
			customers.GET("", customerHandler.List)
			customers.GET("/:id", customerHandler.Get)
		}

		// Sync runs
		sync := v1.Group("/sync")
		{
			sync.GET("/runs", syncHandler.Runs)
			sync.POST("", syncHandler.Request)
		}
	}

	return &Server{
		config: cfg,
		logger: logger,
		db:     db,
		router: router,
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.APIHost, s.config.APIPort)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server on " + addr)
	return s.server.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}
