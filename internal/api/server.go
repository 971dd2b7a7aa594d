package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradepilot/config"
	"tradepilot/internal/database"
	"tradepilot/internal/engine"
	"tradepilot/internal/events"
	"tradepilot/internal/logging"
	"tradepilot/internal/vault"
)

// defaultUserID is used when authentication is disabled and no X-User-ID
// header is supplied.
const defaultUserID = "00000000-0000-0000-0000-000000000000"

// EngineService is the slice of the engine the API consumes.
type EngineService interface {
	StartSession(ctx context.Context, userID string, req engine.StartRequest) (*engine.StartReport, error)
	StopSession(ctx context.Context, userID string) (*engine.SessionSummary, error)
	Status(userID string) (*engine.StatusReport, error)
	History(ctx context.Context, userID, sessionID string, limit int) ([]*database.ExecutionRecord, error)
	Sessions(ctx context.Context, userID string, limit int) ([]*database.Session, error)
}

// CredentialCache is the venue-client cache dropped for a user when their
// credentials change, so deleted or rotated keys stop being used at once.
type CredentialCache interface {
	Invalidate(userID string)
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	engine      EngineService
	eventBus    *events.EventBus
	vaultClient *vault.Client
	venueCache  CredentialCache
	registry    *prometheus.Registry
	cfg         config.ServerConfig
	auth        config.AuthConfig
	log         *logging.Logger
	hub         *wsHub
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	authCfg config.AuthConfig,
	engineSvc EngineService,
	eventBus *events.EventBus,
	vaultClient *vault.Client,
	venueCache CredentialCache,
	registry *prometheus.Registry,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-User-ID"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		engine:      engineSvc,
		eventBus:    eventBus,
		vaultClient: vaultClient,
		venueCache:  venueCache,
		registry:    registry,
		cfg:         cfg,
		auth:        authCfg,
		log:         logging.WithComponent("api"),
		hub:         newWSHub(eventBus),
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	if s.registry != nil {
		s.router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api")
	api.Use(s.authMiddleware())
	{
		eng := api.Group("/engine")
		eng.POST("/start", s.handleStartSession)
		eng.POST("/stop", s.handleStopSession)
		eng.GET("/status", s.handleStatus)
		eng.GET("/history", s.handleHistory)
		eng.GET("/sessions", s.handleSessions)

		creds := api.Group("/credentials")
		creds.POST("", s.handleStoreCredentials)
		creds.DELETE("/:venue", s.handleDeleteCredentials)
	}

	ws := s.router.Group("/ws")
	ws.Use(s.authMiddleware())
	ws.GET("/events", s.handleWS)
}

// authMiddleware resolves the caller's user ID. With auth enabled the
// Bearer token's subject claim is the user; disabled, the X-User-ID header
// (or a fixed default) stands in, which is how local development runs.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.auth.Enabled {
			userID := c.GetHeader("X-User-ID")
			if userID == "" {
				userID = defaultUserID
			}
			c.Set("user_id", userID)
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			errorResponse(c, http.StatusUnauthorized, "authentication required")
			c.Abort()
			return
		}

		token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(s.auth.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			errorResponse(c, http.StatusUnauthorized, "invalid token")
			c.Abort()
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			errorResponse(c, http.StatusUnauthorized, "token has no subject")
			c.Abort()
			return
		}

		c.Set("user_id", subject)
		c.Next()
	}
}

func (s *Server) userID(c *gin.Context) string {
	return c.GetString("user_id")
}

// Start runs the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server...")
	s.hub.close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Router exposes the gin router, used by tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
