package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/olyamironova/token-exchange/internal/api/dto"
	"github.com/olyamironova/token-exchange/internal/core"
	"github.com/olyamironova/token-exchange/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type GRPCServer struct {
	Eng    *core.Engine
	logger *zap.Logger
	srv    *grpc.Server
}

var _ ExchangeServer = (*GRPCServer)(nil)

func NewGRPCServer(eng *core.Engine, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GRPCServer{Eng: eng, logger: logger.Named("grpc")}
	s.srv = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logCalls))
	s.srv.RegisterService(&ServiceDesc, s)
	return s
}

func (s *GRPCServer) Serve(lis net.Listener) error {
	s.logger.Info("grpc server listening", zap.String("addr", lis.Addr().String()))
	if err := s.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (s *GRPCServer) Run(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(lis)
}

func (s *GRPCServer) GracefulStop() { s.srv.GracefulStop() }

func (s *GRPCServer) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	code := status.Code(err)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.String("code", code.String()),
		zap.Duration("latency", time.Since(start)),
	}
	if code == codes.Internal || code == codes.Unknown {
		s.logger.Error("call", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("call", fields...)
	}
	return resp, err
}

type submitRequest struct {
	AccountID string          `json:"account_id"`
	Side      domain.Side     `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Quantity  decimal.Decimal `json:"quantity"`
}

func (s *GRPCServer) SubmitOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req submitRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	res, err := s.Eng.SubmitOrder(ctx, domain.OrderRequest{
		AccountID: req.AccountID,
		Side:      req.Side,
		Price:     req.Price,
		Quantity:  req.Quantity,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	resp := dto.SubmitOrderResponse{
		Order:     dto.FromOrder(res.Order),
		Trades:    dto.FromTrades(res.Trades),
		Remaining: res.Order.Remaining(),
	}
	if res.DurabilityErr != nil {
		resp.Warning = res.DurabilityErr.Error()
	}
	return toStruct(resp)
}

func (s *GRPCServer) CancelOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req struct {
		OrderID   string `json:"order_id"`
		AccountID string `json:"account_id"`
	}
	if err := fromStruct(in, &req); err != nil {
		return nil, err
	}
	if req.OrderID == "" || req.AccountID == "" {
		return nil, status.Error(codes.InvalidArgument, "order_id and account_id are required")
	}
	err := s.Eng.CancelOrder(ctx, req.OrderID, req.AccountID)
	if err != nil && !errors.Is(err, domain.ErrDegradedDurability) {
		return nil, toStatus(err)
	}
	resp := dto.CancelOrderResponse{OrderID: req.OrderID, Cancelled: true}
	if err != nil {
		resp.Warning = err.Error()
	}
	return toStruct(resp)
}

func (s *GRPCServer) GetOrderBook(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	depth := int(in.GetFields()["depth"].GetNumberValue())
	return toStruct(dto.FromDepth(s.Eng.Depth(depth)))
}

func (s *GRPCServer) GetRecentTrades(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	limit := int(in.GetFields()["limit"].GetNumberValue())
	if limit <= 0 {
		limit = 50
	}
	return toStruct(dto.TradesResponse{Trades: dto.FromTrades(s.Eng.RecentTrades(limit))})
}

func (s *GRPCServer) GetMarketData(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return toStruct(s.Eng.MarketData())
}

func (s *GRPCServer) GetBalance(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["account_id"].GetStringValue()
	bal, err := s.Eng.Balance(id)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(dto.FromBalance(bal))
}

// toStruct converts v through its JSON form, so decimals travel as strings.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	b, err := protojson.Marshal(in)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, domain.ErrBookHalted):
		code = codes.Unavailable
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidAmount):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrUnknownAccount), errors.Is(err, domain.ErrOrderNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrNotOwner):
		code = codes.PermissionDenied
	case errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrAlreadyFilled),
		errors.Is(err, domain.ErrAlreadyCancelled):
		code = codes.FailedPrecondition
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}
