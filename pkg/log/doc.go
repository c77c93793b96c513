/*
Package log provides structured logging for the worker executor using zerolog.

All logs include timestamps and a component field, and support filtering by
severity level. A single global Logger is initialized once via Init() and
child loggers are derived from it with WithComponent, WithWorker, WithShard,
and WithPod for context that should ride along on every subsequent log line
in a code path (e.g. every log line emitted while replaying a given worker
carries worker_id).

Usage:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})
	log.Info("executor starting")

	workerLog := log.WithWorker(workerID.String())
	workerLog.Debug().Int("from_index", 1).Msg("starting replay")

Fatal logs and exits the process; it is only appropriate for unrecoverable
startup errors, never for per-worker failures (those become Error oplog
entries and a Failed worker status instead).
*/
package log
