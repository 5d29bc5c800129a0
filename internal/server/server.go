// Package server exposes the agent over HTTP: a REST API under /api, a
// streaming websocket at /ws/chat, and Prometheus metrics at /metrics.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"psycho/internal/agent"
	"psycho/internal/logging"
)

// Config controls the HTTP listener.
type Config struct {
	Host           string
	Port           int
	Debug          bool
	AllowedOrigins []string
}

// DefaultConfig listens on localhost:8000.
func DefaultConfig() Config {
	return Config{Host: "127.0.0.1", Port: 8000}
}

// Server wires the agent into a gin engine.
type Server struct {
	agent    *agent.Agent
	engine   *gin.Engine
	http     *http.Server
	upgrader websocket.Upgrader
	started  time.Time
	logger   logging.Logger
}

// New builds the server and registers all routes.
func New(a *agent.Agent, cfg Config, logger logging.Logger) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsCfg.AllowWebSockets = true
	engine.Use(cors.New(corsCfg))

	s := &Server{
		agent:  a,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Local single-user runtime; the browser frontend runs on a
			// different port, so origin checks stay permissive.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		started: time.Now(),
		logger:  logging.OrNop(logger),
	}
	s.routes()

	s.http = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     engine,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: websocket sessions and token streams stay
		// open indefinitely.
	}
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.handleHealth)
	api.POST("/chat", s.handleChat)
	api.GET("/history", s.handleHistory)
	api.GET("/stats", s.handleStats)
	api.GET("/sessions", s.handleSessions)
	api.GET("/sessions/:id/messages", s.handleSessionMessages)
	api.POST("/ingest", s.handleIngestText)
	api.POST("/upload", s.handleUpload)

	api.GET("/graph", s.handleGraph)
	api.GET("/graph/node/:id", s.handleGraphNode)
	api.DELETE("/graph/node/:id", s.handleDeleteGraphNode)

	api.GET("/tasks", s.handleListTasks)
	api.POST("/tasks", s.handleCreateTask)
	api.PATCH("/tasks/:id/complete", s.handleCompleteTask)

	api.GET("/health-metrics", s.handleHealthMetrics)
	api.POST("/health-metrics", s.handleLogHealthMetric)

	api.GET("/personality", s.handleGetPersonality)
	api.PATCH("/personality", s.handleUpdatePersonality)
	api.POST("/personality/trait", s.handleSetTrait)

	api.GET("/notifications", s.handleNotifications)
	api.POST("/notifications/:id/read", s.handleMarkNotificationRead)
	api.POST("/notifications/read-all", s.handleMarkAllNotificationsRead)

	api.GET("/reminders", s.handleListReminders)
	api.POST("/reminders", s.handleCreateReminder)
	api.PATCH("/reminders/:id/complete", s.handleCompleteReminder)
	api.PATCH("/reminders/:id/snooze", s.handleSnoozeReminder)
	api.DELETE("/reminders/:id", s.handleDeleteReminder)

	api.GET("/calendar", s.handleCalendar)
	api.GET("/calendar/today", s.handleCalendarToday)
	api.POST("/calendar", s.handleCreateCalendarEvent)
	api.DELETE("/calendar/:id", s.handleDeleteCalendarEvent)

	api.GET("/voice/config", s.handleVoiceConfig)

	s.engine.GET("/ws/chat", s.handleChatSocket)
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler returns the underlying engine for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
