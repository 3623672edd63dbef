package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server wires the npm wire protocol router and the JSON management API
// onto one net/http.Server, matching the teacher's Server/setupRoutes
// split between a raw mux and a gin engine.
type Server struct {
	app    *AppContext
	http   *http.Server
	logger *logrus.Logger
}

// NewServer builds the combined server. Management API requests are
// recognized by the "/api/v1" prefix; everything else is routed through
// the npm wire protocol mux.
func NewServer(app *AppContext) *Server {
	if app.Config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	ginEngine := gin.New()
	ginEngine.Use(gin.Recovery())
	ginEngine.Use(ginRequestLogger(app.Log))

	corsConfig := cors.Config{
		AllowOrigins:     app.Config.CORSAllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH", "HEAD"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Accept", "Origin", "X-Requested-With"},
		ExposeHeaders:    []string{"ETag"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	ginEngine.Use(cors.New(corsConfig))

	ginEngine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	mgmt := &managementHandlers{app: app}
	apiV1 := ginEngine.Group("/api/v1")
	mgmt.RegisterRoutes(apiV1)

	npmRouter := NewNPMRouter(app)

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", ginEngine)
	mux.Handle("/healthz", ginEngine)
	mux.Handle("/", npmRouter)

	return &Server{
		app:    app,
		logger: app.Log,
		http: &http.Server{
			Addr:         app.Config.BindAddr(),
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start runs the combined server until it errors or Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.http.Addr).Info("starting clef registry server")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ginRequestLogger replaces gin's default text logger with a structured
// logrus entry per request, matching the logging style used by every
// other component in this module.
func ginRequestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		}).Info("request")
	}
}
