package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// The exchange service exchanges google.protobuf.Struct messages whose
// fields mirror the HTTP JSON bodies, so no generated code is needed.
const serviceName = "exchange.v1.Exchange"

type ExchangeServer interface {
	SubmitOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOrderBook(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRecentTrades(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetMarketData(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type method func(ExchangeServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call method) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ExchangeServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ExchangeServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExchangeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("SubmitOrder", ExchangeServer.SubmitOrder),
		unary("CancelOrder", ExchangeServer.CancelOrder),
		unary("GetOrderBook", ExchangeServer.GetOrderBook),
		unary("GetRecentTrades", ExchangeServer.GetRecentTrades),
		unary("GetMarketData", ExchangeServer.GetMarketData),
		unary("GetBalance", ExchangeServer.GetBalance),
	},
	Metadata: "exchange/v1/exchange.proto",
}

// Client calls the exchange service over any connection.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method (for example "SubmitOrder") with fields as the request.
func (c *Client) Call(ctx context.Context, method string, fields map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
