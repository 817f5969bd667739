package grpctransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/Steank-29/tawakkol/internal/api"
	"github.com/Steank-29/tawakkol/internal/domain"
	"github.com/Steank-29/tawakkol/internal/service/idempotency"
	"github.com/Steank-29/tawakkol/internal/service/order"
)

const (
	// IdempotencyKeyHeader — ключ metadata с ключом идемпотентности.
	IdempotencyKeyHeader = "idempotency-key"
	// FieldErrorsTrailer — trailer с JSON-списком ошибок полей при codes.InvalidArgument.
	FieldErrorsTrailer = "field-errors"
)

type idempotencyErrorPayload struct {
	Code    int32               `json:"code"`
	Message string              `json:"message"`
	Fields  []domain.FieldError `json:"fields,omitempty"`
}

// Server реализует OrderServiceServer поверх order.Service.
type Server struct {
	orders *order.Service
	guard  *idempotency.Guard
	logger *log.Entry
}

var _ OrderServiceServer = (*Server)(nil)

// NewServer конструирует сервер. При guard == nil повторы не отслеживаются.
func NewServer(orders *order.Service, guard *idempotency.Guard, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "grpc")
	}
	return &Server{orders: orders, guard: guard, logger: logger}
}

// CreateOrder оформляет заказ; повтор с тем же idempotency-key получает прежний ответ.
func (s *Server) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, status.Error(codes.Internal, "failed to initialize idempotency request")
	}
	key := readIdempotencyKey(ctx)
	hash := idempotency.RequestHash(MethodCreateOrder, body)

	outcome, replayed, err := s.guard.Execute(ctx, key, hash, func(ctx context.Context) idempotency.Outcome {
		return s.createOrder(ctx, req)
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrIdempotencyHashMismatch):
			return nil, status.Error(codes.AlreadyExists, "idempotency key is already used with different request payload")
		case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
			return nil, status.Error(codes.Aborted, api.MsgRequestInFlight)
		default:
			s.logger.WithError(err).Warn("idempotency store failed")
			return nil, status.Error(codes.Internal, api.MsgCouldNotComplete)
		}
	}
	if replayed {
		s.logger.WithField("idempotency_key", key).Debug("replaying stored create order response")
	}
	return decodeOutcome(ctx, outcome)
}

func (s *Server) createOrder(ctx context.Context, req *CreateOrderRequest) idempotency.Outcome {
	res, err := s.orders.CreateOrder(ctx, req.Order)
	if err != nil {
		var fields []domain.FieldError
		if verr, ok := domain.AsValidation(err); ok {
			fields = verr.Fields
		}
		return encodeFailure(s.toStatus(err), fields)
	}
	return encodeSuccess(&CreateOrderResponse{
		OrderNumber: res.OrderNumber,
		OrderID:     res.OrderID,
		EmailSent:   res.EmailSent,
	})
}

// GetOrder возвращает заказ с таймлайном.
func (s *Server) GetOrder(ctx context.Context, req *GetOrderRequest) (*GetOrderResponse, error) {
	if req == nil || strings.TrimSpace(req.OrderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	o, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	timeline, err := s.orders.Timeline(ctx, req.OrderID)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	return &GetOrderResponse{Order: o, Timeline: timeline}, nil
}

// GetOrderByNumber ищет заказ по номеру.
func (s *Server) GetOrderByNumber(ctx context.Context, req *GetOrderByNumberRequest) (*OrderResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "order_number is required")
	}
	o, err := s.orders.GetOrderByNumber(ctx, req.OrderNumber)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	return &OrderResponse{Order: o}, nil
}

// ListOrders возвращает заказы для сотрудников.
func (s *Server) ListOrders(ctx context.Context, req *ListOrdersRequest) (*ListOrdersResponse, error) {
	if req == nil {
		req = &ListOrdersRequest{}
	}
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must be non-negative")
	}
	orders, err := s.orders.ListOrders(ctx, domain.OrderFilter{Status: req.Status, Limit: req.Limit})
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return &ListOrdersResponse{Orders: orders}, nil
}

// UpdateStatus переводит заказ в новый статус.
func (s *Server) UpdateStatus(ctx context.Context, req *UpdateStatusRequest) (*OrderResponse, error) {
	if req == nil || strings.TrimSpace(req.OrderID) == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id is required")
	}
	o, err := s.orders.UpdateStatus(ctx, req.OrderID, req.Status, req.Reason)
	if err != nil {
		return nil, s.mapError(ctx, err)
	}
	return &OrderResponse{Order: o}, nil
}

// mapError переводит доменную ошибку в gRPC-статус; поля ошибки валидации уходят в trailer.
func (s *Server) mapError(ctx context.Context, err error) error {
	if verr, ok := domain.AsValidation(err); ok {
		setFieldErrors(ctx, verr.Fields)
	}
	return s.toStatus(err)
}

func (s *Server) toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUnknownStatus):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		return status.Error(codes.NotFound, domain.ErrOrderNotFound.Error())
	case errors.Is(err, domain.ErrStatusTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrOrderVersionConflict):
		return status.Error(codes.Aborted, domain.ErrOrderVersionConflict.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		s.logger.WithError(err).Error("order operation failed")
		return status.Error(codes.Internal, api.MsgCouldNotComplete)
	}
}

func setFieldErrors(ctx context.Context, fields []domain.FieldError) {
	if len(fields) == 0 {
		return
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return
	}
	_ = grpc.SetTrailer(ctx, metadata.Pairs(FieldErrorsTrailer, string(data)))
}

func readIdempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(IdempotencyKeyHeader)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func encodeSuccess(resp *CreateOrderResponse) idempotency.Outcome {
	data, err := json.Marshal(resp)
	if err != nil {
		return idempotency.Outcome{}
	}
	return idempotency.Outcome{Status: http.StatusOK, Body: data}
}

// encodeFailure сворачивает gRPC-статус в Outcome с HTTP-подобным кодом:
// Guard запоминает 2xx и 4xx и освобождает ключ на 5xx.
func encodeFailure(err error, fields []domain.FieldError) idempotency.Outcome {
	st := status.Convert(err)
	payload := idempotencyErrorPayload{
		Code:    int32(st.Code()), //nolint:gosec // codes.Code is a bounded enum value.
		Message: st.Message(),
		Fields:  fields,
	}
	data, mErr := json.Marshal(payload)
	if mErr != nil {
		return idempotency.Outcome{}
	}
	return idempotency.Outcome{Status: httpStatusFromCode(st.Code()), Body: data}
}

func decodeOutcome(ctx context.Context, outcome idempotency.Outcome) (*CreateOrderResponse, error) {
	if outcome.Status >= 200 && outcome.Status < 300 {
		resp := &CreateOrderResponse{}
		if err := json.Unmarshal(outcome.Body, resp); err != nil {
			return nil, status.Error(codes.Internal, "failed to decode cached idempotency response")
		}
		return resp, nil
	}

	var payload idempotencyErrorPayload
	if err := json.Unmarshal(outcome.Body, &payload); err != nil {
		return nil, status.Error(codes.Internal, "previous request with the same idempotency key failed")
	}
	code, ok := grpcCodeFromInt32(payload.Code)
	if !ok || code == codes.OK {
		code = codes.Internal
	}
	if payload.Message == "" {
		payload.Message = "previous request with the same idempotency key failed"
	}
	setFieldErrors(ctx, payload.Fields)
	return nil, status.Error(code, payload.Message)
}

func grpcCodeFromInt32(value int32) (codes.Code, bool) {
	if value < int32(codes.OK) || value > int32(codes.Unauthenticated) {
		return codes.Internal, false
	}
	return codes.Code(uint32(value)), true
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
