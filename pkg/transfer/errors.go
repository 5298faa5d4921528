// SPDX-License-Identifier: Apache-2.0

package transfer

import "fmt"

// DataShapeError wraps a transfer failure caused by the destination rejecting
// the row shape: missing column, NOT NULL violation, numeric out of range or
// a syntax error in the generated statement. It carries the table and the
// offending SQL; there is no partial-commit retry.
type DataShapeError struct {
	Table string
	SQL   string
	Err   error
}

func (e DataShapeError) Error() string {
	return fmt.Sprintf("transferring table %q: %s (sql: %s)", e.Table, e.Err, e.SQL)
}

func (e DataShapeError) Unwrap() error {
	return e.Err
}
