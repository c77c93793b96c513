package hostabi

import (
	"fmt"

	"github.com/cuemby/golem-executor/pkg/durability"
	"github.com/cuemby/golem-executor/pkg/oplog"
)

// QueryExecutor is the relational driver golem:rdbms/* binds against —
// postgres, mysql, or any other backend a deployment wires in. It is
// intentionally narrow: host-side transaction and pooling concerns stay
// out of the worker-facing surface.
type QueryExecutor interface {
	Query(query string, args []byte) ([]byte, error)
}

// DurableQuery runs query against exec and records it as a ReadRemote
// import: relational reads are non-deterministic from the worker's point of
// view (another writer can change the row between retries), so replay must
// return the exact rows originally observed rather than re-querying a
// database that has since moved on.
func DurableQuery(ctx *durability.Context, exec QueryExecutor, query string, args []byte) ([]byte, error) {
	return durability.Invoke[[]byte](
		ctx,
		fmt.Sprintf("golem:rdbms/query(%s)", query),
		oplog.ReadRemote,
		args,
		func() ([]byte, error) { return exec.Query(query, args) },
		func(b []byte) ([]byte, error) { return b, nil },
		func(b []byte) ([]byte, error) { return b, nil },
	)
}

// DurableExec runs a mutating statement against exec and records it as a
// WriteRemote import: the statement's side effect on the database must not
// be re-issued on replay, only its recorded outcome observed.
func DurableExec(ctx *durability.Context, exec QueryExecutor, statement string, args []byte) ([]byte, error) {
	return durability.Invoke[[]byte](
		ctx,
		fmt.Sprintf("golem:rdbms/exec(%s)", statement),
		oplog.WriteRemote,
		args,
		func() ([]byte, error) { return exec.Query(statement, args) },
		func(b []byte) ([]byte, error) { return b, nil },
		func(b []byte) ([]byte, error) { return b, nil },
	)
}
