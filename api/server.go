// Package api exposes the engine's REST surface to the platform UI.
// Authentication is an external capability: the gateway in front of
// this service resolves the session and forwards the caller's identity
// in the X-User-ID header.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/finscope/paper-engine/internal/engine"
	"github.com/finscope/paper-engine/internal/engine/model"
	"github.com/finscope/paper-engine/internal/ledger"
	"github.com/finscope/paper-engine/internal/marketdata"
	"github.com/finscope/paper-engine/pkg/errors"
)

const userIDHeader = "X-User-ID"

// Server is the HTTP surface of the paper-trading engine.
type Server struct {
	router    *gin.Engine
	logger    *zap.Logger
	orders    *engine.Service
	oracle    *marketdata.LedgerOracle
	store     ledger.Store
	validator *validator.Validate
}

// NewServer creates the API server with injected components.
func NewServer(logger *zap.Logger, orders *engine.Service, oracle *marketdata.LedgerOracle, store ledger.Store) *Server {
	server := &Server{
		logger:    logger,
		orders:    orders,
		oracle:    oracle,
		store:     store,
		validator: validator.New(),
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(logger, true))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", userIDHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	server.router = router
	server.registerRoutes()
	return server
}

// Start starts the API server.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting API server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Router returns the internal gin engine for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/market/book/:symbol", s.getOrderBook)

		orders := v1.Group("/orders", s.identityMiddleware())
		{
			orders.POST("", s.submitOrder)
			orders.GET("", s.listOrders)
			orders.GET("/:id", s.getOrder)
			orders.GET("/:id/executions", s.listExecutions)
			orders.DELETE("/:id", s.cancelOrder)
		}

		v1.GET("/queue/stats", s.queueStats)
	}
}

// identityMiddleware resolves the caller identity forwarded by the
// gateway. Requests without a parseable user id are rejected.
func (s *Server) identityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.GetHeader(userIDHeader))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed " + userIDHeader + " header"})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}

func (s *Server) userID(c *gin.Context) uuid.UUID {
	id, _ := c.Get("userID")
	userID, _ := id.(uuid.UUID)
	return userID
}

// writeError maps the engine error taxonomy onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errors.KindOf(err) {
	case errors.KindValidation:
		status = http.StatusBadRequest
	case errors.KindNotFound:
		status = http.StatusNotFound
	case errors.KindInvalidTransition:
		status = http.StatusConflict
	case errors.KindTransientStore:
		// Store failures are operational detail, not caller detail.
		s.logger.Error("store failure in handler", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	default:
		s.logger.Error("handler error", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) healthCheck(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "ledger": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) submitOrder(c *gin.Context) {
	var req model.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := s.orders.SubmitOrder(c.Request.Context(), s.userID(c), &req)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_id": order.ID, "status": order.Status})
}

func (s *Server) cancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed order id"})
		return
	}
	order, err := s.orders.CancelOrder(c.Request.Context(), s.userID(c), orderID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": order.ID, "status": order.Status})
}

func (s *Server) getOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed order id"})
		return
	}
	order, err := s.orders.GetOrder(c.Request.Context(), s.userID(c), orderID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (s *Server) listOrders(c *gin.Context) {
	var limit int64
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed limit"})
			return
		}
		limit = parsed
	}
	orders, err := s.orders.ListOrders(c.Request.Context(), s.userID(c), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (s *Server) listExecutions(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed order id"})
		return
	}
	execs, err := s.orders.ListExecutions(c.Request.Context(), s.userID(c), orderID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": execs})
}

func (s *Server) queueStats(c *gin.Context) {
	stats, err := s.orders.GetStats(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) getOrderBook(c *gin.Context) {
	symbol := c.Param("symbol")
	depth := int64(20)
	if raw := c.Query("depth"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed depth"})
			return
		}
		depth = parsed
	}
	book, err := s.oracle.GetBook(c.Request.Context(), symbol, depth)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}
