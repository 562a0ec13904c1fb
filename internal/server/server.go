package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/omarreid/syndicate/internal/config"
	"github.com/omarreid/syndicate/internal/models"
	"github.com/omarreid/syndicate/internal/service"
	"github.com/omarreid/syndicate/internal/store"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	PublishService *service.PublishService
	Scheduler      *service.Scheduler
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Stores
	tasks := store.NewTaskStore(db)
	jobs := store.NewJobStore(db)
	connections := store.NewConnectionStore(db)

	// Services
	monitoring := service.NewMonitoringService(db, logger)
	publishService, err := service.NewPublishService(cfg, tasks, jobs, connections, monitoring, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize publish service: %w", err)
	}
	scheduler := service.NewScheduler(&cfg.Scheduler, logger, jobs, tasks, publishService.Orchestrator(), monitoring)

	// Create router
	router := gin.New()

	srv := &Server{
		Config:         cfg,
		DB:             db,
		Router:         router,
		Logger:         logger,
		PublishService: publishService,
		Scheduler:      scheduler,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		tasks := api.Group("/tasks")
		{
			tasks.POST("", s.handleCreateTask)
			tasks.GET("", s.handleListTasks)
			tasks.GET("/:id", s.handleGetTask)
			tasks.POST("/:id/submit", s.handleSubmitTask)
			tasks.POST("/:id/approve", s.handleApproveTask)
			tasks.POST("/:id/publish", s.handlePublishNow)
			tasks.POST("/:id/schedule", s.handleSchedulePublish)
			tasks.DELETE("/:id/schedule", s.handleCancelScheduled)
		}
		api.GET("/jobs", s.handleListJobs)
		api.GET("/platforms", s.handleListPlatforms)
	}
}

func (s *Server) handleCreateTask(c *gin.Context) {
	var input service.CreateTaskInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task, err := s.PublishService.CreateTask(c.Request.Context(), input)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.PublishService.ListTasks(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleGetTask(c *gin.Context) {
	task, err := s.PublishService.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleSubmitTask(c *gin.Context) {
	task, err := s.PublishService.SubmitTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handleApproveTask(c *gin.Context) {
	task, err := s.PublishService.ApproveTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) handlePublishNow(c *gin.Context) {
	report, err := s.PublishService.ExecuteNow(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type scheduleRequest struct {
	RunAt time.Time `json:"run_at" binding:"required"`
}

func (s *Server) handleSchedulePublish(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.PublishService.SchedulePublish(c.Request.Context(), c.Param("id"), req.RunAt)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "next_run_time": job.NextRunTime})
}

func (s *Server) handleCancelScheduled(c *gin.Context) {
	if err := s.PublishService.CancelScheduled(c.Request.Context(), c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "schedule cancelled"})
}

func (s *Server) handleListJobs(c *gin.Context) {
	jobs, err := s.PublishService.ListJobs(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) handleListPlatforms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"platforms": s.PublishService.AvailablePlatforms()})
}

func (s *Server) writeError(c *gin.Context, err error) {
	var (
		invalidState      *models.InvalidStateError
		invalidTransition *models.InvalidTransitionError
	)

	switch {
	case errors.Is(err, models.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "task was modified concurrently, reload and retry"})
	case errors.As(err, &invalidState), errors.As(err, &invalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case models.IsStoreUnavailable(err):
		s.Logger.Error("Store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage temporarily unavailable"})
	default:
		s.Logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start scheduler
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop scheduler first
	s.Scheduler.Stop()

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
