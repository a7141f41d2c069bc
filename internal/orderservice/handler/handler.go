package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tavolino/internal/orderservice/db"
	"tavolino/internal/orderservice/events"
	"tavolino/internal/orderservice/metrics"
	"tavolino/internal/orderservice/platform"
	"tavolino/internal/orderservice/pricing"
	"tavolino/internal/orderservice/service"
	"tavolino/internal/orderservice/status"
	"tavolino/internal/orderservice/validation"
	"tavolino/pkg/logger"
	"tavolino/pkg/models"
)

// maxBodyBytes bounds request bodies; platform payloads are the largest.
const maxBodyBytes = 1 << 20

// Pinger reports backing-store health for the readiness endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc       *service.OrderService
	ingestor  *platform.Ingestor
	validator *validation.OrderValidator
	hub       *events.Hub
	pinger    Pinger
	metrics   *metrics.Metrics
	logger    *logger.Logger
}

func NewHandler(svc *service.OrderService, ing *platform.Ingestor, v *validation.OrderValidator, hub *events.Hub, pinger Pinger, m *metrics.Metrics, log *logger.Logger) *Handler {
	return &Handler{
		svc:       svc,
		ingestor:  ing,
		validator: v,
		hub:       hub,
		pinger:    pinger,
		metrics:   m,
		logger:    log,
	}
}

func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/history", h.getHistory)
	r.Patch("/orders/{id}/status", h.updateStatus)

	r.Get("/events/orders", h.streamGlobal)
	r.Get("/orders/{id}/events", h.streamOrder)

	r.Post("/webhooks/{platform}", h.platformWebhook)

	r.Put("/admin/busy-mode", h.setBusyMode)

	r.Get("/healthz", h.health)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())
	}

	return r
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var req models.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validator.Validate(&req, time.Now().UTC()); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.svc.CreateOrder(r.Context(), &req, requestID)
	if err != nil {
		h.writeDomainError(w, requestID, "create_order_failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	order, items, err := h.svc.GetOrder(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, middleware.GetReqID(r.Context()), "get_order_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"order": order,
		"items": items,
	})
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	entries, err := h.svc.GetHistory(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, middleware.GetReqID(r.Context()), "get_history_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	id, ok := orderID(w, r)
	if !ok {
		return
	}

	var req models.UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.svc.UpdateStatus(r.Context(), id, &req, requestID)
	if err != nil {
		h.writeDomainError(w, requestID, "update_status_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) platformWebhook(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())
	platformName := chi.URLParam(r, "platform")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	order, duplicate, err := h.ingestor.Ingest(r.Context(), platformName, payload, requestID)
	if err != nil {
		h.writeDomainError(w, requestID, "platform_webhook_failed", err)
		return
	}
	if duplicate {
		writeJSON(w, http.StatusOK, models.PlatformOrderResponse{Success: true, Duplicate: true})
		return
	}

	if h.metrics != nil {
		h.metrics.OrdersCreated.WithLabelValues(platformName).Inc()
	}
	writeJSON(w, http.StatusCreated, models.PlatformOrderResponse{Success: true, OrderID: order.ID})
}

func (h *Handler) setBusyMode(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.SetBusyMode(r.Context(), req.Enabled, requestID); err != nil {
		h.writeDomainError(w, requestID, "set_busy_mode_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"busy_mode": req.Enabled})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.pinger.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps domain sentinels onto HTTP statuses: malformed input
// 400, missing resources 404, business rule rejections 422 and lost races on
// shared counters 409.
func (h *Handler) writeDomainError(w http.ResponseWriter, requestID, action string, err error) {
	switch {
	case errors.Is(err, validation.ErrValidation),
		errors.Is(err, platform.ErrInvalidPayload):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrOrderNotFound),
		errors.Is(err, platform.ErrUnknownPlatform):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pricing.ErrItemNotFound),
		errors.Is(err, pricing.ErrOptionNotFound),
		errors.Is(err, pricing.ErrBelowDeliveryMinimum),
		errors.Is(err, pricing.ErrPromoNotFound),
		errors.Is(err, pricing.ErrPromoExpired),
		errors.Is(err, pricing.ErrPromoMinimumNotMet),
		errors.Is(err, status.ErrInvalidStatus):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, pricing.ErrPromoExhausted),
		errors.Is(err, pricing.ErrInsufficientLoyaltyPoints),
		errors.Is(err, status.ErrTerminalStatus):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error(requestID, action, "Unhandled error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}
