package workerproxy

import (
	"context"

	"github.com/cuemby/golem-executor/pkg/durability"
	"github.com/cuemby/golem-executor/pkg/oplog"
	"google.golang.org/grpc"
)

// Server is the gRPC-facing half of a pod's worker-RPC endpoint: it
// receives Invoke/Fork calls from peer pods' Proxy instances and runs them
// against this pod's LocalDispatch.
type Server struct {
	local    LocalDispatch
	oplogSvc oplog.Service
}

// NewServer wraps local and svc as a remoteServer ready to Attach to a
// grpc.Server.
func NewServer(local LocalDispatch, svc oplog.Service) *Server {
	return &Server{local: local, oplogSvc: svc}
}

// Attach registers this server's Invoke/Fork methods on s.
func (s *Server) Attach(g *grpc.Server) {
	registerServer(g, s)
}

func (s *Server) Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error) {
	output, idx, err := s.local.InvokeLocal(ctx, req.Owned, req.FunctionName, req.IdempotencyKey, req.Input)
	if err != nil {
		return &InvokeResponse{Err: err.Error(), OplogIndex: idx}, nil
	}
	return &InvokeResponse{Output: output, OplogIndex: idx}, nil
}

func (s *Server) Fork(ctx context.Context, req *ForkRequest) (*ForkResponse, error) {
	if err := durability.Fork(s.oplogSvc, req.Source, req.Target, req.Cut); err != nil {
		return &ForkResponse{Err: err.Error()}, nil
	}
	return &ForkResponse{}, nil
}
