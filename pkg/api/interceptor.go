package api

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ReadOnlyInterceptor rejects every method except the executor's read-only
// surface. Used on a more restrictively exposed listener (e.g. a Unix
// socket reachable from the local host only) that shouldn't be able to
// mutate worker state.
func ReadOnlyInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if !isReadOnlyMethod(info.FullMethod) {
			return nil, status.Errorf(
				codes.PermissionDenied,
				"write operations not allowed on this listener - use the mTLS executor API",
			)
		}
		return handler(ctx, req)
	}
}

// readOnlyMethods is the executor API's read surface: GetMetadata, GetOplog,
// and SearchOplog inspect worker/oplog state but never mutate it.
var readOnlyMethods = map[string]bool{
	"GetMetadata": true,
	"GetOplog":    true,
	"SearchOplog": true,
}

func isReadOnlyMethod(method string) bool {
	parts := strings.Split(method, "/")
	methodName := parts[len(parts)-1]
	return readOnlyMethods[methodName]
}
