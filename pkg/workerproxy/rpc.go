package workerproxy

import (
	"context"

	"github.com/cuemby/golem-executor/pkg/grpcjson"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"github.com/cuemby/golem-executor/pkg/types"
	"google.golang.org/grpc"
)

// InvokeRequest is the wire message for a cross-pod invoke_and_await call.
type InvokeRequest struct {
	Owned          types.OwnedWorkerID
	FunctionName   string
	IdempotencyKey string
	Input          []byte
}

// InvokeResponse carries the result of a cross-pod invocation.
type InvokeResponse struct {
	Output     []byte
	OplogIndex oplog.Index
	Err        string
}

// ForkRequest is the wire message for a cross-pod fork call.
type ForkRequest struct {
	Source types.OwnedWorkerID
	Target types.OwnedWorkerID
	Cut    oplog.Index
}

// ForkResponse acknowledges a fork.
type ForkResponse struct {
	Err string
}

// remoteServer is the interface a pod's RPC endpoint implements.
type remoteServer interface {
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error)
	Fork(ctx context.Context, req *ForkRequest) (*ForkResponse, error)
}

const serviceName = "golem.workerproxy.WorkerRPC"

func invokeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(InvokeRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(remoteServer).Invoke(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Invoke"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(remoteServer).Invoke(ctx, req.(*InvokeRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func forkHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ForkRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(remoteServer).Fork(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/Fork"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(remoteServer).Fork(ctx, req.(*ForkRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// serviceDesc wires remoteServer's two methods to grpc.Server without a
// protoc-generated _grpc.pb.go, matching the approach pkg/api's rewrite
// takes for the operator-facing API (see DESIGN.md).
var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*remoteServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
		{MethodName: "Fork", Handler: forkHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/workerproxy/rpc.go",
}

// registerServer attaches impl to s under the workerproxy service name.
func registerServer(s *grpc.Server, impl remoteServer) {
	s.RegisterService(&serviceDesc, impl)
}

// rpcClient is a thin typed wrapper over a grpc.ClientConn speaking the
// JSON codec registered in pkg/grpcjson.
type rpcClient struct {
	conn *grpc.ClientConn
}

func newRPCClient(conn *grpc.ClientConn) *rpcClient {
	return &rpcClient{conn: conn}
}

func (c *rpcClient) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	resp := new(InvokeResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Invoke", req, resp, grpc.CallContentSubtype(grpcjson.Name))
	return resp, err
}

func (c *rpcClient) Fork(ctx context.Context, req *ForkRequest) (*ForkResponse, error) {
	resp := new(ForkResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/Fork", req, resp, grpc.CallContentSubtype(grpcjson.Name))
	return resp, err
}
