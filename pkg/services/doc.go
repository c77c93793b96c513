// Package services defines the external interfaces needed beyond storage
// and the worker runtime: ComponentService (component lookup),
// ShardService (ownership checks and routing-table propagation), and
// PromiseService (promise creation/completion/await). Each gets one
// concrete, bbolt- or in-memory-backed implementation.
package services
