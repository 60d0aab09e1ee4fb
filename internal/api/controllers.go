package api

import (
	"errors"
	"net/http"

	"trigger-engine/internal/errs"
	"trigger-engine/internal/order"
	"trigger-engine/internal/signal"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// webhookRequest is an inbound signal plus the shared passphrase.
type webhookRequest struct {
	signal.Signal
	Passphrase string `json:"passphrase"`
}

type listOrdersQuery struct {
	Limit int `form:"limit"`
}

type monitorRequest struct {
	ID               string   `json:"id"`
	Symbol           string   `json:"symbol" binding:"required"`
	Side             string   `json:"side" binding:"required,oneof=BUY SELL"`
	Type             string   `json:"type" binding:"omitempty,oneof=MARKET LIMIT"`
	Quantity         float64  `json:"quantity" binding:"gte=0"`
	Price            float64  `json:"price" binding:"gte=0"`
	TriggerPrice     *float64 `json:"triggerPrice" binding:"omitempty,gt=0"`
	TriggerCondition string   `json:"triggerCondition" binding:"omitempty,oneof=above below equal"`
	StopLoss         *float64 `json:"stopLoss" binding:"omitempty,gt=0"`
	TakeProfit       *float64 `json:"takeProfit" binding:"omitempty,gt=0"`
}

func (q *listOrdersQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// webhook accepts a signal. When a secret hash is configured the request
// must carry the matching passphrase in the body or X-Webhook-Secret.
func (s *Server) webhook(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}

	if s.WebhookSecretHash != "" {
		secret := req.Passphrase
		if secret == "" {
			secret = c.GetHeader("X-Webhook-Secret")
		}
		if secret == "" || checkSecret(s.WebhookSecretHash, secret) != nil {
			respondError(c, http.StatusUnauthorized, "INVALID_SECRET", "invalid webhook secret")
			return
		}
	}

	res, err := s.Engine.ProcessSignal(c.Request.Context(), req.Signal)
	if err != nil {
		var verr *errs.ValidationError
		switch {
		case errors.As(err, &verr):
			respondError(c, http.StatusBadRequest, "INVALID_SIGNAL", verr.Reason)
		case errs.IsConnection(err):
			respondError(c, http.StatusServiceUnavailable, "EXCHANGE_UNAVAILABLE", err.Error())
		default:
			log.Error().Err(err).Str("symbol", req.Symbol).Msg("api: process signal failed")
			respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}

func (s *Server) getMonitoringStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetMonitoringStatus())
}

func (s *Server) getOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	q.normalize()

	orders, err := s.Engine.Orders(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if len(orders) > q.Limit {
		orders = orders[:q.Limit]
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) getActiveOrders(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.ActiveOrders())
}

func (s *Server) addMonitoring(c *gin.Context) {
	var req monitorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	o := order.Order{
		ID:               req.ID,
		Symbol:           req.Symbol,
		Side:             order.Side(req.Side),
		Type:             order.Type(req.Type),
		Quantity:         req.Quantity,
		Price:            req.Price,
		TriggerPrice:     req.TriggerPrice,
		TriggerCondition: order.Condition(req.TriggerCondition),
		StopLoss:         req.StopLoss,
		TakeProfit:       req.TakeProfit,
	}
	out, err := s.Engine.AddOrderToMonitoring(c.Request.Context(), o)
	if err != nil {
		if errors.Is(err, errs.ErrNoTargets) {
			respondError(c, http.StatusBadRequest, "NO_TARGETS", "order needs a trigger price, stop loss or take profit")
			return
		}
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	log.Info().Str("order_id", out.ID).Str("operator", CurrentSubject(c)).Msg("api: order added to monitoring")
	c.JSON(http.StatusCreated, out)
}

func (s *Server) cancelMonitoring(c *gin.Context) {
	id := c.Param("id")
	err := s.Engine.CancelOrderMonitoring(c.Request.Context(), id)
	switch {
	case err == nil:
		log.Info().Str("order_id", id).Str("operator", CurrentSubject(c)).Msg("api: monitoring cancelled")
		c.JSON(http.StatusOK, gin.H{"id": id, "status": order.StatusCancelled})
	case errors.Is(err, errs.ErrOrderNotFound):
		respondError(c, http.StatusNotFound, "ORDER_NOT_FOUND", err.Error())
	case errors.Is(err, errs.ErrOrderNotActive):
		respondError(c, http.StatusConflict, "ORDER_NOT_ACTIVE", err.Error())
	case errors.Is(err, errs.ErrExecutionInFlight):
		respondError(c, http.StatusConflict, "EXECUTION_IN_FLIGHT", err.Error())
	default:
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func (s *Server) reconnectFeed(c *gin.Context) {
	s.Engine.Reconnect()
	c.JSON(http.StatusAccepted, gin.H{"status": "reconnecting"})
}

// getExecutionMetrics returns order placement latency percentiles.
func (s *Server) getExecutionMetrics(c *gin.Context) {
	if s.Metrics == nil || s.Metrics.ExecLatency == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_UNAVAILABLE", "metrics not available")
		return
	}
	status := s.Engine.GetMonitoringStatus()
	c.JSON(http.StatusOK, gin.H{
		"execution_latency": s.Metrics.ExecLatency.Stats(),
		"queue_length":      status.QueueLength,
		"processing":        status.ProcessingQueue,
	})
}
