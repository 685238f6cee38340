package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/commentboard/backend/internal/board"
	"github.com/commentboard/backend/internal/broadcast"
	"github.com/commentboard/backend/internal/config"
	"github.com/commentboard/backend/internal/handlers"
	"github.com/commentboard/backend/internal/middleware"
	"github.com/commentboard/backend/internal/store"
)

type Server struct {
	cfg     config.Config
	handler *handlers.Handler
}

// NewServer creates and configures a new server
func NewServer(cfg config.Config) *http.Server {
	st := newStore(cfg)
	hub := broadcast.NewHub()
	svc := board.NewService(st, hub)
	handler := handlers.NewHandler(svc, hub, cfg)

	newServer := &Server{
		cfg:     cfg,
		handler: handler,
	}

	router := newServer.RegisterRoutes()

	// No WriteTimeout: /events connections stay open indefinitely.
	server := &http.Server{
		Addr:        "0.0.0.0:" + cfg.Port,
		Handler:     router,
		IdleTimeout: time.Minute,
		ReadTimeout: 10 * time.Second,
	}

	log.Printf("🚀 Server starting on port %s\n", cfg.Port)
	return server
}

func newStore(cfg config.Config) store.Store {
	if cfg.Storage == "postgres" {
		st, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to initialize postgres store: %v", err)
		}
		log.Println("✅ Database connected successfully")
		return st
	}
	log.Printf("✅ Using file store at %s", cfg.DataFile)
	return store.NewFileStore(cfg.DataFile)
}

// RegisterRoutes sets up all application routes
func (s *Server) RegisterRoutes() *gin.Engine {
	r := gin.Default()

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{s.cfg.CORSOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * 3600,
	}))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Auth routes (public)
	r.POST("/auth/register", s.handler.Auth.Register)
	r.POST("/auth/login", s.handler.Auth.Login)

	// Public reads
	r.GET("/comments", s.handler.Comment.List)
	r.GET("/events", s.handler.Event.Stream)

	// Protected routes (authentication required)
	protected := r.Group("")
	protected.Use(middleware.AuthMiddleware([]byte(s.cfg.JWTSecret)))
	{
		protected.GET("/auth/me", s.handler.Auth.GetMe)

		protected.POST("/comments", s.handler.Comment.Create)
		protected.PUT("/comments/:id", s.handler.Comment.Update)
		protected.DELETE("/comments/:id", s.handler.Comment.Delete)

		protected.POST("/reactions", s.handler.Comment.React)
	}

	return r
}
