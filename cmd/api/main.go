package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/classbridge/classbridge-api/api/swagger"
	"github.com/classbridge/classbridge-api/internal/handler"
	internalmiddleware "github.com/classbridge/classbridge-api/internal/middleware"
	"github.com/classbridge/classbridge-api/internal/models"
	"github.com/classbridge/classbridge-api/internal/repository"
	"github.com/classbridge/classbridge-api/internal/service"
	"github.com/classbridge/classbridge-api/pkg/cache"
	"github.com/classbridge/classbridge-api/pkg/config"
	"github.com/classbridge/classbridge-api/pkg/database"
	"github.com/classbridge/classbridge-api/pkg/export"
	"github.com/classbridge/classbridge-api/pkg/jobs"
	"github.com/classbridge/classbridge-api/pkg/logger"
	"github.com/classbridge/classbridge-api/pkg/mailer"
	corsmiddleware "github.com/classbridge/classbridge-api/pkg/middleware/cors"
	reqidmiddleware "github.com/classbridge/classbridge-api/pkg/middleware/requestid"
	"github.com/classbridge/classbridge-api/pkg/storage"
)

// @title ClassBridge API
// @version 1.0.0
// @description Course, assignment and student feed API
// @BasePath /api/v1
// @schemes http

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

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	exportRepo := repository.NewExportRepository(db)

	// Redis-backed cache is optional; course reads fall through to the
	// database when disabled or unreachable.
	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, cache disabled", "error", err)
		} else {
			defer redisClient.Close()
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, true)
		}
	}

	var notifyMailer mailer.Mailer
	if cfg.Mail.Enabled && cfg.Mail.SendgridKey != "" {
		notifyMailer = mailer.NewSendgridMailer(cfg.Mail.SendgridKey, cfg.Mail.FromName, cfg.Mail.FromAddress, logr)
	} else {
		notifyMailer = mailer.NewLogMailer(logr)
	}
	notificationSvc := service.NewNotificationService(notificationRepo, notifyMailer, cfg.Mail.FromAddress, logr)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
	})
	courseSvc := service.NewCourseService(courseRepo, userRepo, cacheSvc, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, courseRepo, validate, logr)

	attachmentStore, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init attachment storage", "error", err)
	}
	attachmentSigner := storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)
	assignmentSvc := service.NewAssignmentService(assignmentRepo, courseRepo, attachmentStore, attachmentSigner, service.AttachmentConfig{
		MaxFileSizeBytes: cfg.Attachments.MaxFileSizeBytes,
		AllowedMIMEs:     cfg.Attachments.AllowedMIMEs,
	}, validate, logr)
	submissionSvc := service.NewSubmissionService(submissionRepo, assignmentRepo, enrollmentRepo, validate, logr)

	feedSvc := service.NewFeedService(service.FeedServiceParams{
		Enrollments: enrollmentRepo,
		Courses:     courseRepo,
		Assignments: assignmentRepo,
		Submissions: submissionRepo,
		Notifier:    notificationSvc,
		Metrics:     metricsSvc,
		Logger:      logr,
	})

	var generationSvc *service.GenerationService
	if cfg.Generation.Enabled {
		generationSvc = service.NewGenerationService(assignmentRepo, service.GenerationConfig{
			Enabled: true,
			BaseURL: cfg.Generation.BaseURL,
			APIKey:  cfg.Generation.APIKey,
			Model:   cfg.Generation.Model,
			Timeout: cfg.Generation.Timeout,
		}, logr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var exportSvc *service.ExportService
	var cronRunner *cron.Cron
	if cfg.Exports.Enabled {
		exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		exportSigner := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(service.ExportServiceParams{
			Repo:     exportRepo,
			Feed:     feedSvc,
			Storage:  exportStore,
			Signer:   exportSigner,
			CSV:      export.NewCSVExporter(),
			PDF:      export.NewPDFExporter(),
			Notifier: notificationSvc,
			Logger:   logr,
			FileTTL:  cfg.Exports.SignedURLTTL,
		})
		exportQueue := jobs.NewQueue("exports", exportSvc.Process, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportQueue.Start(ctx)
		defer exportQueue.Stop()
		exportSvc.AttachQueue(exportQueue)

		cronRunner = cron.New()
		if _, err := cronRunner.AddFunc(cfg.Exports.CleanupSchedule, exportSvc.CleanupExpired); err != nil {
			logr.Sugar().Warnw("invalid export cleanup schedule", "schedule", cfg.Exports.CleanupSchedule, "error", err)
		} else {
			cronRunner.Start()
			defer cronRunner.Stop()
		}
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	courseHandler := handler.NewCourseHandler(courseSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	assignmentHandler := handler.NewAssignmentHandler(assignmentSvc, generationSvc)
	submissionHandler := handler.NewSubmissionHandler(submissionSvc)
	feedHandler := handler.NewFeedHandler(feedSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	staff := []string{string(models.RoleAdmin), string(models.RoleSuperAdmin)}
	teaching := append([]string{string(models.RoleTeacher)}, staff...)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc))
	{
		secured.POST("/auth/logout", authHandler.Logout)
		secured.POST("/auth/change-password", authHandler.ChangePassword)
		secured.GET("/auth/me", authHandler.Me)

		secured.GET("/courses", courseHandler.List)
		secured.GET("/courses/:id", courseHandler.Get)
		secured.POST("/courses", internalmiddleware.RBAC(staff...), courseHandler.Create)
		secured.PUT("/courses/:id", internalmiddleware.RBAC(staff...), courseHandler.Update)
		secured.DELETE("/courses/:id", internalmiddleware.RBAC(staff...), courseHandler.Delete)

		secured.GET("/enrollments", internalmiddleware.RBAC(teaching...), enrollmentHandler.List)
		secured.POST("/enrollments", internalmiddleware.RBAC(staff...), enrollmentHandler.Enroll)
		secured.POST("/enrollments/:id/drop", internalmiddleware.RBAC(staff...), enrollmentHandler.Drop)
		secured.POST("/enrollments/:id/complete", internalmiddleware.RBAC(staff...), enrollmentHandler.Complete)

		secured.GET("/assignments", assignmentHandler.List)
		secured.GET("/assignments/:id", assignmentHandler.Get)
		secured.POST("/assignments", internalmiddleware.RBAC(teaching...), assignmentHandler.Create)
		secured.PUT("/assignments/:id", internalmiddleware.RBAC(teaching...), assignmentHandler.Update)
		secured.DELETE("/assignments/:id", internalmiddleware.RBAC(teaching...), assignmentHandler.Delete)
		secured.POST("/assignments/:id/attachment", internalmiddleware.RBAC(teaching...), assignmentHandler.Attach)
		secured.GET("/assignments/:id/attachment", assignmentHandler.Attachment)
		secured.POST("/assignments/:id/generate", internalmiddleware.RBAC(teaching...), assignmentHandler.Generate)
		secured.GET("/assignments/:id/submissions", internalmiddleware.RBAC(teaching...), submissionHandler.ListByAssignment)

		secured.POST("/submissions", internalmiddleware.RBAC(string(models.RoleStudent)), submissionHandler.Submit)
		secured.POST("/submissions/:id/grade", internalmiddleware.RBAC(teaching...), submissionHandler.Grade)

		secured.GET("/me/assignments", internalmiddleware.RBAC(string(models.RoleStudent)), feedHandler.MyFeed)
		secured.GET("/students/:id/assignments", internalmiddleware.RBAC(append([]string{internalmiddleware.SelfRole}, teaching...)...), feedHandler.StudentFeed)

		secured.GET("/notifications", internalmiddleware.RBAC(staff...), notificationHandler.List)
		secured.POST("/notifications/:id/read", internalmiddleware.RBAC(staff...), notificationHandler.MarkRead)

		secured.GET("/metrics/summary", internalmiddleware.RBAC(staff...), metricsHandler.Snapshot)

		if exportSvc != nil {
			exportHandler := handler.NewExportHandler(exportSvc)
			secured.POST("/exports", internalmiddleware.RBAC(teaching...), exportHandler.Create)
			secured.GET("/exports/status/:id", internalmiddleware.RBAC(teaching...), exportHandler.Status)
			// Download authenticates through the signed token itself.
			api.GET("/exports/download", exportHandler.Download)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
