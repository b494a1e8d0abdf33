package circuit

import "errors"

// ErrCapacityExceeded is returned by Table.GetOrCreate when the table is
// already at its configured maximum number of circuits.
var ErrCapacityExceeded = errors.New("circuit: capacity exceeded")
