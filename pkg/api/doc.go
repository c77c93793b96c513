/*
Package api implements the operator-facing executor API: the gRPC surface a
CLI, an ingress/gateway, or another worker-executor pod uses to create,
invoke, inspect, and manage durable workers.

# Architecture

	┌───────────────── CLIENT (CLI / gateway) ────────────────┐
	│  api.Client (grpc.ClientConn, JSON content-subtype)      │
	└─────────────────────────┬────────────────────────────────┘
	                          │ gRPC (mTLS, pkg/workerproxy.ClientConfig)
	┌─────────────────────────▼──── WORKER-EXECUTOR POD ───────┐
	│  api.Server (hand-built grpc.ServiceDesc)                │
	│    - metricsInterceptor: api_requests_total/duration     │
	│    - ReadOnlyInterceptor: restricts a second, more open   │
	│      listener to GetMetadata/GetOplog/SearchOplog         │
	│  api.Executor                                             │
	│    - services.ShardService.CheckWorker: redirect if this  │
	│      pod doesn't own the target worker's shard            │
	│    - worker.ActiveWorkers: local worker lifecycle         │
	│    - workerproxy.Proxy: cross-pod invoke/fork forwarding  │
	│    - oplog.Service: read/search a worker's history        │
	└────────────────────────────────────────────────────────────┘

No generated *_grpc.pb.go exists for this surface (see DESIGN.md for why);
server.go registers its eleven methods through a grpc.ServiceDesc built by
hand, decoding requests with pkg/grpcjson instead of real protobuf wire
encoding. The request/response shapes still live in Go structs
(messages.go), so switching to a .proto-generated transport later only
touches server.go and Client.

# Operations

	CreateWorker    instantiate a worker at a component version
	InvokeAndAwait  run a function, block for its result
	Invoke          schedule a function, don't wait
	GetMetadata     read a worker's current status record
	Interrupt       ask a running worker to stop at its next safe point
	Resume          bring a suspended or interrupted worker back to Running
	Delete          evict a worker and drop its oplog
	Fork            copy an oplog prefix into a new worker
	Update          record a pending component-version switch
	GetOplog        read a contiguous range of a worker's oplog
	SearchOplog     filter a worker's oplog by function/log/error text

GetMetadata, GetOplog, and SearchOplog are the read-only surface recognized
by ReadOnlyInterceptor; every other method mutates worker state.

# Shard ownership

Every method that names a worker calls services.ShardService.CheckWorker
first. A worker whose shard this pod doesn't own returns an
*apierr.ShardRedirectError identifying the owning pod; InvokeAndAwait,
Invoke and Fork instead forward the call transparently through
workerproxy.Proxy, so
callers only see a redirect from the methods that operate purely on local
state (CreateWorker, GetMetadata, Interrupt, Resume, Delete, Update,
GetOplog, SearchOplog).

# Health and readiness

HealthServer wires pkg/metrics' /health, /ready, /live, and /metrics
handlers onto one mux and keeps a "shard-manager" readiness component in
sync with Raft leadership via RefreshShardHealth. A worker-executor pod
that doesn't embed a shard manager replica passes a nil ShardTableSource,
so that component is simply never registered.
*/
package api
