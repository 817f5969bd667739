package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Steank-29/tawakkol/internal/api"
	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/service/idempotency"
)

// ReplayHeader выставляется, если ответ взят из хранилища идемпотентности.
const ReplayHeader = "Idempotent-Replayed"

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeEnvelope(w, http.StatusBadRequest, api.ErrorEnvelope("could not read request body", err))
		return
	}

	key := r.Header.Get(api.IdempotencyKeyHeader)
	hash := idempotency.RequestHash(idempotency.OperationCreateOrder, body)

	outcome, replayed, err := h.guard.Execute(r.Context(), key, hash, func(ctx context.Context) idempotency.Outcome {
		return h.placeOrder(ctx, body)
	})
	if err != nil {
		h.writeIdempotencyError(w, key, err)
		return
	}
	if replayed {
		h.metrics.RecordIdempotentReplay()
		w.Header().Set(ReplayHeader, "true")
	}
	writeRaw(w, outcome.Status, outcome.Body)
}

func (h *Handler) placeOrder(ctx context.Context, body []byte) idempotency.Outcome {
	var req domain.OrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return idempotency.Outcome{
			Status: http.StatusBadRequest,
			Body:   encodeEnvelope(api.ErrorEnvelope("invalid JSON body", err)),
		}
	}

	res, err := h.orders.CreateOrder(ctx, req)
	if err != nil {
		if _, ok := domain.AsValidation(err); ok {
			return idempotency.Outcome{
				Status: http.StatusBadRequest,
				Body:   encodeEnvelope(api.ErrorEnvelope("Validation failed", err)),
			}
		}
		h.logger.WithError(err).Error("create order failed")
		return idempotency.Outcome{
			Status: http.StatusInternalServerError,
			Body:   encodeEnvelope(api.Envelope{Message: api.MsgCouldNotComplete}),
		}
	}

	message := "Order placed"
	if !res.EmailSent {
		message = "Order placed; confirmation email could not be sent"
	}
	env, err := api.NewEnvelope(api.CreateOrderData{
		Order:     api.OrderRef{OrderNumber: res.OrderNumber, ID: res.OrderID},
		EmailSent: res.EmailSent,
	}, message)
	if err != nil {
		return idempotency.Outcome{
			Status: http.StatusInternalServerError,
			Body:   encodeEnvelope(api.Envelope{Message: "internal error"}),
		}
	}
	return idempotency.Outcome{Status: http.StatusCreated, Body: encodeEnvelope(env)}
}

func (h *Handler) writeIdempotencyError(w http.ResponseWriter, key string, err error) {
	switch {
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		writeEnvelope(w, http.StatusConflict, api.ErrorEnvelope(api.MsgRequestInFlight, err))
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		writeEnvelope(w, http.StatusUnprocessableEntity, api.ErrorEnvelope("idempotency key is already used with a different request", err))
	default:
		h.logger.WithError(err).WithField("idempotency_key", key).Error("idempotency store failed")
		writeEnvelope(w, http.StatusInternalServerError, api.Envelope{Message: api.MsgCouldNotComplete})
	}
}

func (h *Handler) orderByNumber(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrderByNumber(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	writeData(w, http.StatusOK, order, "")
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	filter := domain.OrderFilter{Status: domain.OrderStatus(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeEnvelope(w, http.StatusBadRequest, api.ErrorEnvelope("Validation failed",
				domain.NewValidationError("limit", "must be a non-negative integer")))
			return
		}
		filter.Limit = limit
	}

	orders, err := h.orders.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeData(w, http.StatusOK, orders, "")
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	timeline, err := h.orders.Timeline(r.Context(), id)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	if timeline == nil {
		timeline = []domain.TimelineEvent{}
	}
	writeData(w, http.StatusOK, api.OrderWithTimeline{Order: order, Timeline: timeline}, "")
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req api.StatusUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, api.ErrorEnvelope("invalid JSON body", err))
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Reason)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}
	writeData(w, http.StatusOK, order, "Order status updated")
}

// writeQueryError сопоставляет ошибки чтения и смены статуса с HTTP-кодами.
func (h *Handler) writeQueryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeEnvelope(w, http.StatusBadRequest, api.ErrorEnvelope("Validation failed", err))
	case errors.Is(err, domain.ErrUnknownStatus):
		writeEnvelope(w, http.StatusBadRequest, api.ErrorEnvelope("Validation failed",
			domain.NewValidationError("status", err.Error())))
	case errors.Is(err, domain.ErrOrderNotFound):
		writeEnvelope(w, http.StatusNotFound, api.ErrorEnvelope("order not found", nil))
	case errors.Is(err, domain.ErrStatusTransition), errors.Is(err, domain.ErrOrderVersionConflict):
		writeEnvelope(w, http.StatusConflict, api.ErrorEnvelope("order status cannot be changed", err))
	default:
		h.logger.WithError(err).Error("order query failed")
		writeEnvelope(w, http.StatusInternalServerError, api.Envelope{Message: "internal error"})
	}
}

