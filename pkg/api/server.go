package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/cuemby/golem-executor/pkg/grpcjson"
	"github.com/cuemby/golem-executor/pkg/log"
	"github.com/cuemby/golem-executor/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

const serviceName = "golem.api.Executor"

// Server is the gRPC-facing half of the operator-facing executor API,
// wrapping an Executor with the mTLS listener shape the worker-RPC service
// (pkg/workerproxy) also uses. No generated *_grpc.pb.go exists in the
// retrieved pack (see DESIGN.md), so methods are registered through a
// hand-built grpc.ServiceDesc speaking pkg/grpcjson's JSON codec instead of
// real protobuf wire encoding.
type Server struct {
	exec *Executor
	grpc *grpc.Server
}

// NewServer wraps exec in a gRPC server. serverTLS may be nil to accept
// plaintext connections (tests, single-process dev deployments); in
// production it should come from workerproxy.ServerConfig over the same
// certificate files the worker-RPC listener uses.
func NewServer(exec *Executor, serverTLS *tls.Config) *Server {
	var opt grpc.ServerOption
	if serverTLS != nil {
		opt = grpc.Creds(credentials.NewTLS(serverTLS))
	} else {
		opt = grpc.Creds(insecure.NewCredentials())
	}
	g := grpc.NewServer(opt, grpc.UnaryInterceptor(metricsInterceptor))
	s := &Server{exec: exec, grpc: g}
	g.RegisterService(&serviceDesc, s)
	return s
}

// Listen starts serving on addr, blocking until the listener is closed.
func (s *Server) Listen(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", addr, err)
	}
	log.WithComponent("api").Info().Str("addr", addr).Msg("executor API listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully shuts down the gRPC server.
func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

func metricsInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	timer := metrics.NewTimer()
	resp, err := handler(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.APIRequestsTotal.WithLabelValues(info.FullMethod, status).Inc()
	timer.ObserveDurationVec(metrics.APIRequestDuration, info.FullMethod)
	return resp, err
}

func methodHandler[Req any, Resp any](methodName string, call func(*Executor, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		s := srv.(*Server)
		if interceptor == nil {
			return call(s.exec, ctx, req)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/" + methodName}
		wrapped := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(s.exec, ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, wrapped)
	}
}

func noCtx[Req any, Resp any](call func(*Executor, *Req) (*Resp, error)) func(*Executor, context.Context, *Req) (*Resp, error) {
	return func(e *Executor, _ context.Context, req *Req) (*Resp, error) {
		return call(e, req)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateWorker", Handler: methodHandler("CreateWorker", noCtx((*Executor).CreateWorker))},
		{MethodName: "InvokeAndAwait", Handler: methodHandler("InvokeAndAwait", (*Executor).InvokeAndAwait)},
		{MethodName: "Invoke", Handler: methodHandler("Invoke", noCtx((*Executor).Invoke))},
		{MethodName: "GetMetadata", Handler: methodHandler("GetMetadata", noCtx((*Executor).GetMetadata))},
		{MethodName: "Interrupt", Handler: methodHandler("Interrupt", noCtx((*Executor).Interrupt))},
		{MethodName: "Resume", Handler: methodHandler("Resume", noCtx((*Executor).Resume))},
		{MethodName: "Delete", Handler: methodHandler("Delete", noCtx((*Executor).Delete))},
		{MethodName: "Fork", Handler: methodHandler("Fork", (*Executor).Fork)},
		{MethodName: "Update", Handler: methodHandler("Update", noCtx((*Executor).Update))},
		{MethodName: "GetOplog", Handler: methodHandler("GetOplog", noCtx((*Executor).GetOplog))},
		{MethodName: "SearchOplog", Handler: methodHandler("SearchOplog", noCtx((*Executor).SearchOplog))},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "pkg/api/server.go",
}

// Client is a thin typed wrapper over a grpc.ClientConn speaking the JSON
// codec, for use by tests and other Go callers of the executor API.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient wraps an established connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+method, req, resp, grpc.CallContentSubtype(grpcjson.Name))
}

func (c *Client) CreateWorker(ctx context.Context, req *CreateWorkerRequest) (*CreateWorkerResponse, error) {
	resp := new(CreateWorkerResponse)
	err := c.invoke(ctx, "CreateWorker", req, resp)
	return resp, err
}

func (c *Client) InvokeAndAwait(ctx context.Context, req *InvokeAndAwaitRequest) (*InvokeAndAwaitResponse, error) {
	resp := new(InvokeAndAwaitResponse)
	err := c.invoke(ctx, "InvokeAndAwait", req, resp)
	return resp, err
}

func (c *Client) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	resp := new(InvokeResponse)
	err := c.invoke(ctx, "Invoke", req, resp)
	return resp, err
}

func (c *Client) GetMetadata(ctx context.Context, req *GetMetadataRequest) (*GetMetadataResponse, error) {
	resp := new(GetMetadataResponse)
	err := c.invoke(ctx, "GetMetadata", req, resp)
	return resp, err
}

func (c *Client) Interrupt(ctx context.Context, req *InterruptRequest) (*InterruptResponse, error) {
	resp := new(InterruptResponse)
	err := c.invoke(ctx, "Interrupt", req, resp)
	return resp, err
}

func (c *Client) Resume(ctx context.Context, req *ResumeRequest) (*ResumeResponse, error) {
	resp := new(ResumeResponse)
	err := c.invoke(ctx, "Resume", req, resp)
	return resp, err
}

func (c *Client) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	resp := new(DeleteResponse)
	err := c.invoke(ctx, "Delete", req, resp)
	return resp, err
}

func (c *Client) Fork(ctx context.Context, req *ForkRequest) (*ForkResponse, error) {
	resp := new(ForkResponse)
	err := c.invoke(ctx, "Fork", req, resp)
	return resp, err
}

func (c *Client) Update(ctx context.Context, req *UpdateRequest) (*UpdateResponse, error) {
	resp := new(UpdateResponse)
	err := c.invoke(ctx, "Update", req, resp)
	return resp, err
}

func (c *Client) GetOplog(ctx context.Context, req *GetOplogRequest) (*GetOplogResponse, error) {
	resp := new(GetOplogResponse)
	err := c.invoke(ctx, "GetOplog", req, resp)
	return resp, err
}

func (c *Client) SearchOplog(ctx context.Context, req *SearchOplogRequest) (*SearchOplogResponse, error) {
	resp := new(SearchOplogResponse)
	err := c.invoke(ctx, "SearchOplog", req, resp)
	return resp, err
}
