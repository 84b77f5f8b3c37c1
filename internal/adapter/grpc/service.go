package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "tokenledger.v1.LedgerService"

// LedgerServiceServer is the server API for the LedgerService service.
// Requests and responses are google.protobuf.Struct documents with decimals as strings.
type LedgerServiceServer interface {
	SyncWallet(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SyncWallets(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetCostBasis(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecomputeHoldings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetCostBasisMethod(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CalculateRealizedPnL(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CalculateUnrealizedPnL(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CalculatePnLSummary(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(name string, call unaryMethod) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + ServiceName + "/" + name
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// LedgerServiceDesc is the grpc.ServiceDesc for the LedgerService service
var LedgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SyncWallet", Handler: unaryHandler("SyncWallet", LedgerServiceServer.SyncWallet)},
		{MethodName: "SyncWallets", Handler: unaryHandler("SyncWallets", LedgerServiceServer.SyncWallets)},
		{MethodName: "GetCostBasis", Handler: unaryHandler("GetCostBasis", LedgerServiceServer.GetCostBasis)},
		{MethodName: "RecomputeHoldings", Handler: unaryHandler("RecomputeHoldings", LedgerServiceServer.RecomputeHoldings)},
		{MethodName: "SetCostBasisMethod", Handler: unaryHandler("SetCostBasisMethod", LedgerServiceServer.SetCostBasisMethod)},
		{MethodName: "CalculateRealizedPnL", Handler: unaryHandler("CalculateRealizedPnL", LedgerServiceServer.CalculateRealizedPnL)},
		{MethodName: "CalculateUnrealizedPnL", Handler: unaryHandler("CalculateUnrealizedPnL", LedgerServiceServer.CalculateUnrealizedPnL)},
		{MethodName: "CalculatePnLSummary", Handler: unaryHandler("CalculatePnLSummary", LedgerServiceServer.CalculatePnLSummary)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tokenledger/v1/ledger.proto",
}

// RegisterLedgerServiceServer registers srv on s
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&LedgerServiceDesc, srv)
}

// LedgerServiceClient calls LedgerService methods on a connection
type LedgerServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewLedgerServiceClient creates a client for LedgerService
func NewLedgerServiceClient(cc grpc.ClientConnInterface) *LedgerServiceClient {
	return &LedgerServiceClient{cc: cc}
}

// Call invokes method with the given request document
func (c *LedgerServiceClient) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
