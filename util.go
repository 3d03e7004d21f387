package dbpool

import (
	"errors"
	"fmt"
)

// errNoCurrentRow is returned by a materialized row-set snapshot's Scan
// when called before Next or after the last row.
var errNoCurrentRow = errors.New("dbpool: no current row")

// errScanTargetNotPointer and errScanTypeMismatch are returned by a
// materialized row-set snapshot's Scan when the destination cannot receive
// the cached value, mirroring the shape of errors database/sql itself
// returns for the same misuse.
var (
	errScanTargetNotPointer = errors.New("dbpool: scan destination is not a non-nil pointer")
	errScanTypeMismatch     = errors.New("dbpool: scan destination type does not match cached value")
)

// errWrap joins a sentinel error with its underlying cause so that both
// errors.Is(err, sentinel) and errors.Is(err, cause) succeed.
func errWrap(sentinel, cause error) error {
	if cause == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, cause)
}
