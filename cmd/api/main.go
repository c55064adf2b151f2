package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/thesis-desk-api/api/swagger"
	"github.com/noah-isme/thesis-desk-api/internal/handler"
	"github.com/noah-isme/thesis-desk-api/internal/middleware"
	"github.com/noah-isme/thesis-desk-api/internal/models"
	"github.com/noah-isme/thesis-desk-api/internal/repository"
	"github.com/noah-isme/thesis-desk-api/internal/service"
	"github.com/noah-isme/thesis-desk-api/pkg/cache"
	"github.com/noah-isme/thesis-desk-api/pkg/config"
	"github.com/noah-isme/thesis-desk-api/pkg/database"
	"github.com/noah-isme/thesis-desk-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/thesis-desk-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/thesis-desk-api/pkg/middleware/requestid"
	"github.com/noah-isme/thesis-desk-api/pkg/storage"
)

// @title Thesis Desk API
// @version 0.1.0
// @description Supervision request workflow for thesis topics, reviewers and invoices
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// repositories
	userRepo := repository.NewUserRepository(db)
	topicRepo := repository.NewTopicRepository(db)
	requestRepo := repository.NewRequestRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// shared infrastructure services
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Directory.CacheTTL, logr, redisClient != nil)
	notifySvc := service.NewNotifyService(service.NotifyConfig{
		Enabled:    cfg.Notifications.Enabled,
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
	}, logr)
	notifyCtx, stopNotify := context.WithCancel(context.Background())
	notifySvc.Start(notifyCtx)
	defer func() {
		stopNotify()
		notifySvc.Stop()
	}()

	// document storage
	docStore, err := storage.NewLocalStorage(cfg.Documents.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init document storage", "error", err)
	}
	docSigner := storage.NewSignedURLSigner(cfg.Documents.SignedURLSecret, cfg.Documents.SignedURLTTL)

	validate := validator.New()

	// domain services
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	directorySvc := service.NewDirectoryService(userRepo, cacheSvc, cfg.Directory.CacheTTL, logr)
	topicSvc := service.NewTopicService(topicRepo, userRepo, logr)
	dashboardSvc := service.NewDashboardService(requestRepo, cacheSvc, metricsSvc, cfg.Dashboard.CacheTTL, logr)
	requestSvc := service.NewRequestService(requestRepo, topicRepo, directorySvc, userRepo, logr,
		service.WithRequestNotifier(notifySvc),
		service.WithRequestMetrics(metricsSvc),
		service.WithRequestCounterCache(dashboardSvc),
	)
	reviewerSvc := service.NewReviewerService(requestRepo, directorySvc, userRepo, notifySvc, logr)
	invoiceSvc := service.NewInvoiceService(requestRepo, userRepo, notifySvc, metricsSvc, logr)
	documentSvc := service.NewDocumentService(docStore, docSigner, cfg.Documents.MaxFileSizeBytes, logr)

	// handlers
	authHandler := handler.NewAuthHandler(authSvc, directorySvc)
	topicHandler := handler.NewTopicHandler(topicSvc)
	requestHandler := handler.NewRequestHandler(requestSvc, reviewerSvc, invoiceSvc)
	directoryHandler := handler.NewDirectoryHandler(directorySvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	documentHandler := handler.NewDocumentHandler(documentSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)

		authed := auth.Group("")
		authed.Use(middleware.JWT(authSvc))
		authed.POST("/logout", authHandler.Logout)
		authed.PUT("/password", authHandler.ChangePassword)
		authed.GET("/me", authHandler.Me)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	topics := protected.Group("/topics")
	{
		topics.GET("", topicHandler.List)
		topics.GET("/:id", topicHandler.Get)
		topics.POST("", middleware.RequireRoles(models.RoleTutor, models.RoleAdmin), topicHandler.Create)
		topics.PUT("/:id", middleware.RequireRoles(models.RoleTutor, models.RoleAdmin), topicHandler.Update)
		topics.DELETE("/:id", middleware.RequireRoles(models.RoleTutor, models.RoleAdmin), topicHandler.Delete)
	}

	requests := protected.Group("/requests")
	{
		requests.POST("", middleware.RequireRoles(models.RoleStudent), requestHandler.Create)
		requests.GET("", requestHandler.List)
		requests.GET("/reviews", middleware.RequireRoles(models.RoleTutor, models.RoleAdmin), requestHandler.ListReviews)
		requests.GET("/ledger/export",
			middleware.RequireRoles(models.RoleTutor, models.RoleAdmin),
			middleware.Audit(userRepo, "ledger.export", "invoice_ledger"),
			requestHandler.ExportLedger)
		requests.GET("/:id", requestHandler.Get)
		requests.POST("/:id/transition", requestHandler.Transition)
		requests.DELETE("/:id", middleware.RequireRoles(models.RoleStudent), requestHandler.Delete)
		requests.POST("/:id/reviewer", middleware.RequireRoles(models.RoleTutor, models.RoleAdmin), requestHandler.AssignReviewer)
		requests.POST("/:id/reviewer/decision", middleware.RequireRoles(models.RoleTutor, models.RoleAdmin), requestHandler.ReviewerDecision)
		requests.POST("/:id/invoices", middleware.RequireRoles(models.RoleTutor, models.RoleAdmin), requestHandler.CreateInvoice)
		requests.POST("/:id/invoices/paid", requestHandler.MarkInvoicePaid)
	}

	directory := protected.Group("/directory")
	{
		directory.GET("/tutors", directoryHandler.List)
		directory.GET("/reviewers", middleware.RequireRoles(models.RoleTutor, models.RoleAdmin), directoryHandler.ReviewerCandidates)
	}

	dashboard := protected.Group("/dashboard")
	{
		dashboard.GET("/counters", dashboardHandler.Counters)
		dashboard.GET("/system", middleware.RequireRoles(models.RoleAdmin), dashboardHandler.System)
	}

	protected.POST("/documents",
		middleware.RequireRoles(models.RoleStudent),
		middleware.Audit(userRepo, "document.upload", "document"),
		documentHandler.Upload)
	// downloads authenticate via the signed token itself
	api.GET("/documents/:token", documentHandler.Download)

	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			documentSvc.Cleanup(90 * 24 * time.Hour)
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
