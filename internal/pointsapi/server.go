package pointsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/points/pkg/points"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	errorInvalidUserID        = "invalid_user_id"
	errorInvalidPayload       = "invalid_payload"
	errorNonPositiveAmount    = "non_positive_amount"
	errorExceedsMaxBalance    = "exceeds_max_balance"
	errorInsufficientBalance  = "insufficient_balance"
	errorStorageFailure       = "storage_failure"
	errorRequestTimeout       = "request_timeout"
	errorInternal             = "internal_error"
	userIDPathParameter       = "id"
	unexpectedFailureLogEntry = "points request failed"
)

// PointService is the part of points.Service the HTTP layer depends on.
type PointService interface {
	Balance(ctx context.Context, userID points.UserID) (points.Balance, error)
	History(ctx context.Context, userID points.UserID) ([]points.LedgerEntry, error)
	Charge(ctx context.Context, userID points.UserID, amount points.Points) (points.Balance, error)
	Use(ctx context.Context, userID points.UserID, amount points.Points) (points.Balance, error)
}

// Run serves the points API until ctx ends.
func Run(ctx context.Context, cfg Config, service PointService, logger *zap.Logger, gatherer prometheus.Gatherer) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           setupRouter(cfg, handler, gatherer),
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("points api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowMethods: []string{"GET", "PATCH", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Origin", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	point := router.Group("/point")
	point.GET("/:id", handler.handleBalance)
	point.GET("/:id/histories", handler.handleHistory)
	point.PATCH("/:id/charge", handler.handleCharge)
	point.PATCH("/:id/use", handler.handleUse)

	return router
}

type httpHandler struct {
	logger  *zap.Logger
	service PointService
	cfg     Config
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	balance, err := handler.service.Balance(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newBalancePayload(balance))
}

func (handler *httpHandler) handleHistory(ctx *gin.Context) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	entries, err := handler.service.History(requestCtx, userID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	payload := make([]entryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, entryPayload{
			EntryID:           entry.EntryID,
			UserID:            entry.UserID.String(),
			Amount:            entry.Amount.Int64(),
			Type:              entry.Kind.String(),
			RecordedUnixMilli: entry.RecordedAt.UnixMilli(),
			Sequence:          entry.Sequence,
		})
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handleCharge(ctx *gin.Context) {
	handler.handleMutation(ctx, handler.service.Charge)
}

func (handler *httpHandler) handleUse(ctx *gin.Context) {
	handler.handleMutation(ctx, handler.service.Use)
}

type mutation func(ctx context.Context, userID points.UserID, amount points.Points) (points.Balance, error)

func (handler *httpHandler) handleMutation(ctx *gin.Context, mutate mutation) {
	userID, ok := handler.userID(ctx)
	if !ok {
		return
	}
	raw, err := ctx.GetRawData()
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, "unreadable body"))
		return
	}
	amount, err := parseAmount(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidPayload, err.Error()))
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
	defer cancel()
	balance, err := mutate(requestCtx, userID, points.Points(amount))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, newBalancePayload(balance))
}

func (handler *httpHandler) userID(ctx *gin.Context) (points.UserID, bool) {
	userID, err := points.NewUserID(ctx.Param(userIDPathParameter))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidUserID, "user id must not be empty"))
		return points.UserID{}, false
	}
	return userID, true
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, points.ErrInvalidUserID):
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInvalidUserID, err.Error()))
	case errors.Is(err, points.ErrNonPositiveAmount):
		ctx.JSON(http.StatusBadRequest, errorResponse(errorNonPositiveAmount, "amount must be greater than zero"))
	case errors.Is(err, points.ErrExceedsMaxBalance):
		ctx.JSON(http.StatusBadRequest, errorResponse(errorExceedsMaxBalance, fmt.Sprintf("balance may not exceed %d", points.MaxBalance)))
	case errors.Is(err, points.ErrInsufficientBalance):
		ctx.JSON(http.StatusBadRequest, errorResponse(errorInsufficientBalance, "balance is lower than the requested amount"))
	case errors.Is(err, points.ErrStorageFailure):
		handler.logger.Error(unexpectedFailureLogEntry, zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse(errorStorageFailure, "storage unavailable"))
	case errors.Is(err, context.DeadlineExceeded):
		handler.logger.Warn(unexpectedFailureLogEntry, zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusServiceUnavailable, errorResponse(errorRequestTimeout, "request timed out"))
	default:
		handler.logger.Error(unexpectedFailureLogEntry, zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse(errorInternal, "internal error"))
	}
}

// parseAmount accepts a bare JSON number or an object with an amount field.
func parseAmount(raw []byte) (int64, error) {
	var amount int64
	if err := json.Unmarshal(raw, &amount); err == nil {
		return amount, nil
	}
	var request amountRequest
	if err := json.Unmarshal(raw, &request); err != nil || request.Amount == nil {
		return 0, errors.New("expected a JSON integer or {\"amount\": integer}")
	}
	return *request.Amount, nil
}

func newBalancePayload(balance points.Balance) balancePayload {
	payload := balancePayload{
		UserID: balance.UserID.String(),
		Point:  balance.Amount.Int64(),
	}
	if !balance.UpdatedAt.IsZero() {
		payload.UpdatedUnixMilli = balance.UpdatedAt.UnixMilli()
	}
	return payload
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

type amountRequest struct {
	Amount *int64 `json:"amount"`
}

type balancePayload struct {
	UserID           string `json:"user_id"`
	Point            int64  `json:"point"`
	UpdatedUnixMilli int64  `json:"updated_unix_milli"`
}

type entryPayload struct {
	EntryID           string `json:"entry_id"`
	UserID            string `json:"user_id"`
	Amount            int64  `json:"amount"`
	Type              string `json:"type"`
	RecordedUnixMilli int64  `json:"recorded_unix_milli"`
	Sequence          int64  `json:"sequence"`
}
