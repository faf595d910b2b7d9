package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rustyeddy/fxhook/broker"
	"github.com/rustyeddy/fxhook/engine"
	"github.com/rustyeddy/fxhook/journal"
	"github.com/rustyeddy/fxhook/ledger"
	"github.com/rustyeddy/fxhook/risk"
	"github.com/rustyeddy/fxhook/signal"
	"go.uber.org/zap"
)

const maxBody = 64 << 10

// Webhook executes one alert.
func (s *Server) Webhook() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := readBody(c)
		if !ok {
			return
		}

		res, err := s.exec.Handle(c.Request.Context(), body)
		if err != nil {
			status, resp := errorResponse(err)
			if status >= http.StatusInternalServerError {
				s.log.Error("webhook failed", zap.Int("status", status), zap.Error(err))
			} else {
				s.log.Warn("webhook rejected", zap.Int("status", status), zap.Error(err))
			}
			c.JSON(status, resp)
			return
		}

		switch res.Outcome {
		case engine.OutcomeDuplicate, engine.OutcomeAlreadyPositioned:
			c.JSON(http.StatusOK, gin.H{
				"message":    string(res.Outcome),
				"side":       res.Signal.Side,
				"instrument": res.Signal.Instrument,
			})
		default:
			raw := res.Order.Raw
			if len(raw) == 0 {
				raw = json.RawMessage("null")
			}
			c.JSON(http.StatusOK, gin.H{
				"message":        "order placed",
				"side":           res.Signal.Side,
				"instrument":     res.Signal.Instrument,
				"units":          res.Units,
				"price":          res.Price.String(),
				"balance":        res.Balance.StringFixed(2),
				"realized_pl":    res.Reconciliation.RealizedPL.StringFixed(2),
				"order_id":       res.Order.OrderID,
				"oanda_response": raw,
			})
		}
	}
}

func (s *Server) Health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Trades lists recent journal records, oldest first. ?limit=n bounds it.
func (s *Server) Trades() gin.HandlerFunc {
	return func(c *gin.Context) {
		n := 0
		if v := c.Query("limit"); v != "" {
			var err error
			if n, err = strconv.Atoi(v); err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
		}
		recs, err := s.trades.Recent(c.Request.Context(), n)
		if err != nil {
			s.log.Error("list trades", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": recs})
	}
}

// Trade returns one journal record by id.
func (s *Server) Trade() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, err := s.trades.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, journal.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			s.log.Error("get trade", zap.String("trade_id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rec)
	}
}

func readBody(c *gin.Context) ([]byte, bool) {
	if b, ok := c.Get(bodyKey); ok {
		return b.([]byte), true
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBody))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large or unreadable"})
		return nil, false
	}
	return body, true
}

// errorResponse maps an engine error to a status and JSON body.
func errorResponse(err error) (int, gin.H) {
	var (
		ve *signal.ValidationError
		se *risk.SizeError
		le *risk.LimitError
		oe *engine.OrderError
		pe *ledger.PersistenceError
		be *broker.Error
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, gin.H{"error": ve.Error()}
	case errors.As(err, &se):
		msg := "insufficient funds"
		if errors.Is(err, risk.ErrInsufficientSize) {
			msg = "insufficient size"
		}
		return http.StatusBadRequest, gin.H{"error": msg, "details": se.Details()}
	case errors.As(err, &le):
		return http.StatusForbidden, gin.H{"error": "risk limit breached", "details": le.Details()}
	case errors.As(err, &oe):
		return http.StatusBadGateway, gin.H{"error": oe.Error(), "details": rawDetails(oe.Body())}
	case errors.As(err, &pe):
		return http.StatusInternalServerError, gin.H{"error": pe.Error()}
	case errors.As(err, &be):
		return http.StatusBadGateway, gin.H{"error": be.Error(), "details": rawDetails(be.Body)}
	default:
		return http.StatusInternalServerError, gin.H{"error": err.Error()}
	}
}

// rawDetails passes broker JSON through untouched and wraps anything else
// as a string.
func rawDetails(body string) any {
	if body == "" {
		return nil
	}
	if json.Valid([]byte(body)) {
		return json.RawMessage(body)
	}
	return body
}
