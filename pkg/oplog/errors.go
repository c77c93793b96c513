package oplog

import "errors"

var (
	errEmptyEntry = errors.New("oplog: empty entry bytes")
)
