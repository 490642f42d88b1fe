package http

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	settlement "github.com/routepay/settlement-go"
)

// Server exposes the settlement engine over HTTP.
type Server struct {
	engine *settlement.Engine
	cache  *SettlementCache
	logger *zap.Logger
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithCacheTTL sets the idempotency cache TTL for settle responses.
func WithCacheTTL(ttl time.Duration) ServerOption {
	return func(s *Server) {
		s.cache = NewSettlementCache(ttl)
	}
}

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates an HTTP server around the engine.
func NewServer(engine *settlement.Engine, opts ...ServerOption) *Server {
	s := &Server{
		engine: engine,
		cache:  NewSettlementCache(5 * time.Minute),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin router with all routes mounted.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.POST("/settle", s.handleSettle)
	router.GET("/fees/:account", s.handleGetFee)
	router.GET("/healthz", s.handleHealth)

	admin := router.Group("/admin")
	admin.POST("/fee", s.handleSetFee)
	admin.POST("/special-fee", s.handleSetSpecialFee)
	admin.POST("/pause", s.handlePause)
	admin.POST("/unpause", s.handleUnpause)

	return router
}

func (s *Server) handleSettle(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, settlement.NewSettlementError(
			settlement.ErrCodeInvalidPaymentAmount, "reading request body failed", nil))
		return
	}

	if err := validateSettleDocument(body); err != nil {
		s.writeError(c, http.StatusBadRequest, settlement.NewSettlementError(
			settlement.ErrCodeInvalidPaymentAmount, err.Error(), nil))
		return
	}

	var req SettleRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(c, http.StatusBadRequest, settlement.NewSettlementError(
			settlement.ErrCodeInvalidPaymentAmount, "request body is not valid JSON", nil))
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, settlement.NewSettlementError(
			settlement.ErrCodeInvalidAddress, err.Error(), nil))
		return
	}

	value := new(big.Int)
	if req.AttachedValue != "" {
		if value, err = parseAmount("attachedValue", req.AttachedValue); err != nil {
			s.writeError(c, http.StatusBadRequest, settlement.NewSettlementError(
				settlement.ErrCodeInvalidNativePaymentAmount, err.Error(), nil))
			return
		}
	}

	intent, err := decodeIntent(req.Intent)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, settlement.NewSettlementError(
			settlement.ErrCodeInvalidPaymentAmount, err.Error(), nil))
		return
	}

	// Idempotency: identical retried bodies settle at most once.
	key := SettlementKey(body)
	status, cached, done := s.cache.CheckAndMark(key)
	switch status {
	case StatusCached:
		c.JSON(http.StatusOK, SettleResponse{Receipt: cached})
		return
	case StatusInFlight:
		receipt, err := s.cache.WaitForResult(c.Request.Context(), key, done)
		if err != nil {
			s.writeError(c, http.StatusRequestTimeout, settlement.NewSettlementError(
				settlement.ErrCodeSettlementAborted, "timed out waiting for duplicate settlement", nil))
			return
		}
		if receipt != nil {
			c.JSON(http.StatusOK, SettleResponse{Receipt: receipt})
			return
		}
		// The in-flight attempt failed; fall through and try fresh.
		status, cached, done = s.cache.CheckAndMark(key)
		if status != StatusNotFound {
			if cached != nil {
				c.JSON(http.StatusOK, SettleResponse{Receipt: cached})
				return
			}
			s.writeError(c, http.StatusConflict, settlement.NewSettlementError(
				settlement.ErrCodeReentrantCall, "duplicate settlement in progress", nil))
			return
		}
	}

	receipt, err := s.engine.Settle(c.Request.Context(), caller, value, intent)
	if err != nil {
		s.cache.Fail(key, done)
		s.logger.Info("settle request failed",
			zap.String("caller", req.Caller),
			zap.String("code", settlement.ErrorCode(err)))
		s.writeSettlementError(c, err)
		return
	}
	s.cache.Complete(key, receipt, done)

	s.logger.Info("settle request succeeded",
		zap.String("caller", req.Caller),
		zap.String("invocationId", receipt.InvocationID))
	c.JSON(http.StatusOK, SettleResponse{Receipt: receipt})
}

func (s *Server) handleGetFee(c *gin.Context) {
	account, err := parseAddress("account", c.Param("account"))
	if err != nil {
		s.writeError(c, http.StatusBadRequest, settlement.NewSettlementError(
			settlement.ErrCodeInvalidAddress, err.Error(), nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"account": account.Hex(),
		"rateBps": s.engine.GetServiceFee(account),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"paused": s.engine.Paused(),
	})
}

type setFeeRequest struct {
	RateBps uint16 `json:"rateBps"`
}

type setSpecialFeeRequest struct {
	Account string `json:"account"`
	RateBps uint16 `json:"rateBps"`
}

func (s *Server) handleSetFee(c *gin.Context) {
	caller, ok := s.adminCaller(c)
	if !ok {
		return
	}
	var req setFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, settlement.NewSettlementError(
			settlement.ErrCodeInvalidServiceFeePercent, "request body is not valid JSON", nil))
		return
	}
	if err := s.engine.SetServiceFeePercent(caller, req.RateBps); err != nil {
		s.writeSettlementError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rateBps": req.RateBps})
}

func (s *Server) handleSetSpecialFee(c *gin.Context) {
	caller, ok := s.adminCaller(c)
	if !ok {
		return
	}
	var req setSpecialFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeError(c, http.StatusBadRequest, settlement.NewSettlementError(
			settlement.ErrCodeInvalidAddress, "request body is not valid JSON", nil))
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		s.writeError(c, http.StatusBadRequest, settlement.NewSettlementError(
			settlement.ErrCodeInvalidAddress, err.Error(), nil))
		return
	}
	if err := s.engine.SetSpecialFee(caller, account, req.RateBps); err != nil {
		s.writeSettlementError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account.Hex(), "rateBps": req.RateBps})
}

func (s *Server) handlePause(c *gin.Context) {
	caller, ok := s.adminCaller(c)
	if !ok {
		return
	}
	if err := s.engine.Pause(caller); err != nil {
		s.writeSettlementError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

func (s *Server) handleUnpause(c *gin.Context) {
	caller, ok := s.adminCaller(c)
	if !ok {
		return
	}
	if err := s.engine.Unpause(caller); err != nil {
		s.writeSettlementError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// adminCaller reads the governance principal from the X-Caller header. The
// engine enforces ownership; this only parses the address.
func (s *Server) adminCaller(c *gin.Context) (common.Address, bool) {
	addr, err := parseAddress("X-Caller", c.GetHeader("X-Caller"))
	if err != nil {
		s.writeError(c, http.StatusUnauthorized, settlement.NewSettlementError(
			settlement.ErrCodeUnauthorized, "missing or malformed X-Caller header", nil))
		return common.Address{}, false
	}
	return addr, true
}

// writeSettlementError maps a settlement error code onto an HTTP status.
func (s *Server) writeSettlementError(c *gin.Context, err error) {
	se, ok := err.(*settlement.SettlementError)
	if !ok {
		se = settlement.NewSettlementError(settlement.ErrCodeSettlementAborted, err.Error(), nil)
	}

	status := http.StatusPaymentRequired
	switch se.Code {
	case settlement.ErrCodeInvalidPaymentAmount,
		settlement.ErrCodeInvalidNativePaymentAmount,
		settlement.ErrCodePaymentExpired,
		settlement.ErrCodeInvalidExchangeAddress,
		settlement.ErrCodeInvalidAddress,
		settlement.ErrCodeInvalidServiceFeePercent:
		status = http.StatusBadRequest
	case settlement.ErrCodeUnauthorized:
		status = http.StatusForbidden
	case settlement.ErrCodePaused:
		status = http.StatusServiceUnavailable
	case settlement.ErrCodeReentrantCall:
		status = http.StatusConflict
	}
	s.writeError(c, status, se)
}

func (s *Server) writeError(c *gin.Context, status int, se *settlement.SettlementError) {
	c.JSON(status, ErrorResponse{Error: se})
}
