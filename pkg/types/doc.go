/*
Package types defines the identifiers and cached records shared across the
worker executor: ComponentID/WorkerID/OwnedWorkerID, the ShardID hash ring and
RoutingTable, and WorkerStatusRecord. Everything here is plain data; storage,
replay, and scheduling behavior live in their own packages.
*/
package types
