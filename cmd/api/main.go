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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/clg-aas-api/api/swagger"
	"github.com/noah-isme/clg-aas-api/internal/handler"
	"github.com/noah-isme/clg-aas-api/internal/middleware"
	"github.com/noah-isme/clg-aas-api/internal/models"
	"github.com/noah-isme/clg-aas-api/internal/repository"
	"github.com/noah-isme/clg-aas-api/internal/service"
	"github.com/noah-isme/clg-aas-api/pkg/cache"
	"github.com/noah-isme/clg-aas-api/pkg/config"
	"github.com/noah-isme/clg-aas-api/pkg/database"
	"github.com/noah-isme/clg-aas-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/clg-aas-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/clg-aas-api/pkg/middleware/requestid"
)

// @title CLG AAS API
// @version 0.1.0
// @description Approval and reconciliation engine for college attendance
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("database connection failed", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, request listing cache disabled", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	requestRepo := repository.NewRequestRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	holidayRepo := repository.NewHolidayRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	tokenSvc := service.NewTokenService(cfg.JWT.Secret)

	notificationSvc := service.NewNotificationService(cfg.Notifications, nil, logr)
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	requestSvc := service.NewRequestService(db, requestRepo, logr,
		service.WithListCache(cacheRepo, cfg.Approvals.ListCacheTTL),
		service.WithMinReasonLength(cfg.Approvals.MinReasonLength),
	)

	decisionSvc := service.NewDecisionService(db, requestRepo, logr)
	decisionSvc.SetCache(cacheRepo)
	decisionSvc.SetNotifier(notificationSvc)
	decisionSvc.SetMetrics(metricsSvc)
	decisionSvc.Register(models.RequestTypeHODChange,
		service.NewHODReconciler(assignmentRepo, userRepo, cfg.Approvals.AccessDowngrade, logr))
	decisionSvc.Register(models.RequestTypeOD,
		service.NewODReconciler(attendanceRepo, enrollmentRepo, assignmentRepo, holidayRepo, logr))
	decisionSvc.Register(models.RequestTypeHoliday,
		service.NewHolidayReconciler(holidayRepo))
	decisionSvc.Register(models.RequestTypeAttendanceEdit,
		service.NewAttendanceEditReconciler(attendanceRepo))
	decisionSvc.Register(models.RequestTypeLeaveException,
		service.NewLeaveExceptionReconciler(attendanceRepo, enrollmentRepo, assignmentRepo))

	advisorSvc := service.NewAdvisorService(db, assignmentRepo, logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo)

	requestHandler := handler.NewRequestHandler(requestSvc, decisionSvc)
	advisorHandler := handler.NewAdvisorHandler(advisorSvc)
	attendanceHandler := handler.NewAttendanceHandler(attendanceSvc)

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
		if err := db.PingContext(c.Request.Context()); err != nil {
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
	api.Use(middleware.JWT(tokenSvc))
	{
		requests := api.Group("/requests")
		requests.POST("", requestHandler.Create)
		requests.GET("", requestHandler.List)
		requests.GET("/:id", requestHandler.Get)
		requests.GET("/:id/audit", requestHandler.Audit)

		deciders := requests.Group("")
		deciders.Use(middleware.RequireRoles(models.RolePrincipal, models.RoleAdmin))
		deciders.POST("/:id/approve", requestHandler.Approve)
		deciders.POST("/:id/reject", requestHandler.Reject)

		advisors := api.Group("/advisors")
		advisors.Use(middleware.RequireRoles(models.RolePrincipal, models.RoleAdmin))
		advisors.PUT("/reassign", advisorHandler.Reassign)
		advisors.GET("/assignments/:id/history", advisorHandler.History)

		api.GET("/attendance/:classId/:date", attendanceHandler.Ledger)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("shutdown incomplete", "error", err)
	}
}
