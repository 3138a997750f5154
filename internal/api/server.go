package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/annel0/blockcodec/internal/cache"
	"github.com/annel0/blockcodec/internal/convert"
	"github.com/annel0/blockcodec/internal/logging"
	"github.com/annel0/blockcodec/internal/middleware"
	"github.com/annel0/blockcodec/internal/registry"
	"github.com/annel0/blockcodec/internal/section"
	"github.com/annel0/blockcodec/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Server HTTP API кодека: справка по реестру, декодирование и хранение секций.
type Server struct {
	router      *gin.Engine
	http        *http.Server
	registry    *registry.Registry
	layout      section.Layout
	translators map[string]*convert.Translator
	store       *storage.SectionStore
	cache       *cache.SectionCache
	reporter    section.Reporter
	workers     int
	maxPayload  int64
	nodeID      string
	metrics     *ServerMetrics
	logger      *logging.Logger
}

// Config содержит зависимости сервера. Store, Cache и Translators необязательны.
type Config struct {
	Port     int
	NodeID   string
	Registry *registry.Registry
	Layout   section.Layout
	// Translators по имени целевой версии
	Translators map[string]*convert.Translator
	Store       *storage.SectionStore
	Cache       *cache.SectionCache
	Reporter    section.Reporter

	Workers         int
	MaxPayloadBytes int64

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// GenericResponse общий формат ответа API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// NewServer создаёт HTTP сервер
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("api: registry is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 8089
	}
	if cfg.MaxPayloadBytes <= 0 {
		cfg.MaxPayloadBytes = 1 << 20
	}
	if cfg.Reporter == nil {
		cfg.Reporter = section.LogReporter{}
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("blockcodec"))
	router.Use(middleware.NewRequestLogger(logging.For(logging.ComponentAPI)).Handler())

	promMw := middleware.NewPrometheusMiddleware("blockcodec", cfg.Registerer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Gatherer)

	s := &Server{
		router:      router,
		registry:    cfg.Registry,
		layout:      cfg.Layout,
		translators: cfg.Translators,
		store:       cfg.Store,
		cache:       cfg.Cache,
		reporter:    cfg.Reporter,
		workers:     cfg.Workers,
		maxPayload:  cfg.MaxPayloadBytes,
		nodeID:      cfg.NodeID,
		metrics:     NewServerMetrics(),
		logger:      logging.For(logging.ComponentAPI),
	}
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/stats", s.handleStats)

	api := s.router.Group("/api")

	reg := api.Group("/registry")
	{
		reg.GET("", s.handleRegistry)
		reg.GET("/resolve/:id", s.handleResolve)
		reg.GET("/global", s.handleGlobal)
	}

	sections := api.Group("/sections")
	{
		sections.POST("/decode", s.handleDecode)
		sections.POST("/batch", s.handleBatch)
		sections.POST("/translate/:target", s.handleTranslate)
		sections.GET("/:x/:y/:z", s.handleGetSection)
		sections.PUT("/:x/:y/:z", s.handlePutSection)
		sections.DELETE("/:x/:y/:z", s.handleDeleteSection)
	}

	columns := api.Group("/columns")
	{
		columns.GET("/:x/:z", s.handleGetColumn)
	}
}

// Handler возвращает http.Handler (для тестов и встраивания)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start блокирует до остановки сервера
func (s *Server) Start() error {
	s.logger.Info("🌐 HTTP API слушает %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"node":    s.nodeID,
		"version": s.registry.Version().String(),
		"time":    time.Now().Unix(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	stats := map[string]interface{}{
		"process": s.metrics.Snapshot(),
		"registry": gin.H{
			"version":     s.registry.Version().String(),
			"types":       s.registry.Len(),
			"states":      s.registry.TotalStates(),
			"global_bits": s.registry.GlobalBits(),
		},
	}
	if s.cache != nil {
		stats["cache"] = s.cache.Stats()
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

func fail(c *gin.Context, status int, format string, args ...interface{}) {
	c.AbortWithStatusJSON(status, GenericResponse{
		Success: false,
		Message: fmt.Sprintf(format, args...),
	})
}
