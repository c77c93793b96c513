/*
Package durability implements the durable host ABI: the live/replay
dispatch every non-deterministic import goes through, idempotency-key
dedup for top-level invocations, atomic regions, worker forking, and the
two update pipelines (automatic and snapshot-based).

Grounded on the Durability[T] abstraction below, and on the
original implementation's golem-worker-executor durability module, which
records (on first execution) or replays (on recovery) every host call
through a single generic wrapper.
*/
package durability
