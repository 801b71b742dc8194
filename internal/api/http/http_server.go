package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/olyamironova/token-exchange/internal/api/dto"
	"github.com/olyamironova/token-exchange/internal/core"
	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/olyamironova/token-exchange/internal/middleware"
	"go.uber.org/zap"
)

const accountHeader = "X-Account-ID"

type Options struct {
	RateLimit  int
	RateWindow time.Duration
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

type HTTPServer struct {
	Eng    *core.Engine
	logger *zap.Logger
	opts   Options
	srv    *http.Server
}

func NewHTTPServer(eng *core.Engine, logger *zap.Logger, opts Options) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Second
	}
	s := &HTTPServer{Eng: eng, logger: logger.Named("http"), opts: opts}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler builds the gin router.
func (s *HTTPServer) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(s.logger))

	r.GET("/healthz", s.health)
	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.opts.Metrics))
	}
	r.GET("/ws/market", s.marketStream)

	api := r.Group("/")
	api.Use(middleware.NewRateLimiter(s.opts.RateLimit, s.opts.RateWindow).Middleware())
	api.POST("/accounts", s.openAccount)
	api.GET("/accounts/:id/balance", s.getBalance)
	api.GET("/accounts/:id/orders", s.getAccountOrders)
	api.POST("/orders", s.submitOrder)
	api.GET("/orders/:id", s.getOrder)
	api.DELETE("/orders/:id", s.cancelOrder)
	api.GET("/orderbook", s.getOrderbook)
	api.GET("/trades", s.getTrades)
	api.GET("/market", s.getMarket)
	return r
}

// Run serves on addr until Shutdown. A Shutdown that happens first makes Run
// return at once.
func (s *HTTPServer) Run(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *HTTPServer) Serve(lis net.Listener) error {
	s.logger.Info("http server listening", zap.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *HTTPServer) health(c *gin.Context) {
	if halted, cause := s.Eng.Halted(); halted {
		msg := "halted"
		if cause != nil {
			msg = cause.Error()
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "halted", "reason": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "symbol": s.Eng.Symbol()})
}

func (s *HTTPServer) openAccount(c *gin.Context) {
	var req dto.OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	bal, err := s.Eng.OpenAccount(c.Request.Context(), req.AccountID, req.Token, req.Fiat)
	if err != nil && !errors.Is(err, domain.ErrDegradedDurability) {
		s.fail(c, err)
		return
	}
	if err != nil {
		c.Header("X-Durability", "degraded")
	}
	c.JSON(http.StatusCreated, dto.FromBalance(bal))
}

func (s *HTTPServer) getBalance(c *gin.Context) {
	bal, err := s.Eng.Balance(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromBalance(bal))
}

func (s *HTTPServer) getAccountOrders(c *gin.Context) {
	c.JSON(http.StatusOK, dto.OrdersResponse{Orders: dto.FromOrders(s.Eng.AccountOrders(c.Param("id")))})
}

func (s *HTTPServer) submitOrder(c *gin.Context) {
	var req dto.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	if req.AccountID == "" {
		req.AccountID = c.GetHeader(accountHeader)
	}

	res, err := s.Eng.SubmitOrder(c.Request.Context(), domain.OrderRequest{
		AccountID: req.AccountID,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := dto.SubmitOrderResponse{
		Order:     dto.FromOrder(res.Order),
		Trades:    dto.FromTrades(res.Trades),
		Remaining: res.Order.Remaining(),
	}
	if res.DurabilityErr != nil {
		c.Header("X-Durability", "degraded")
		resp.Warning = res.DurabilityErr.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getOrder(c *gin.Context) {
	o, err := s.Eng.Order(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.FromOrder(o))
}

func (s *HTTPServer) cancelOrder(c *gin.Context) {
	account := c.GetHeader(accountHeader)
	if account == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: accountHeader + " header required"})
		return
	}
	id := c.Param("id")
	err := s.Eng.CancelOrder(c.Request.Context(), id, account)
	if err != nil && !errors.Is(err, domain.ErrDegradedDurability) {
		s.fail(c, err)
		return
	}
	resp := dto.CancelOrderResponse{OrderID: id, Cancelled: true}
	if err != nil {
		c.Header("X-Durability", "degraded")
		resp.Warning = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *HTTPServer) getOrderbook(c *gin.Context) {
	depth, err := intQuery(c, "depth", 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.FromDepth(s.Eng.Depth(depth)))
}

func (s *HTTPServer) getTrades(c *gin.Context) {
	limit, err := intQuery(c, "limit", 50)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.TradesResponse{Trades: dto.FromTrades(s.Eng.RecentTrades(limit))})
}

func (s *HTTPServer) getMarket(c *gin.Context) {
	c.JSON(http.StatusOK, s.Eng.MarketData())
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	return n, nil
}

func (s *HTTPServer) fail(c *gin.Context, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, dto.ErrorResponse{Error: err.Error()})
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrBookHalted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnknownAccount), errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrAlreadyFilled),
		errors.Is(err, domain.ErrAlreadyCancelled),
		errors.Is(err, domain.ErrAccountExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
