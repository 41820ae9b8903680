package pipeline

import (
	"fmt"

	"github.com/pkg/errors"
)

// WriteError is a failed bulk write of one batch. The batch is back in the
// buffer when this is returned and will be retried on the next trigger.
type WriteError struct {
	Records int
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("pipeline: flush of %d records failed: %v", e.Records, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ConnectionFault means the queue connection can no longer be used. Op names
// the step that failed: dial, declare, qos, consume, poll or ack.
type ConnectionFault struct {
	Op  string
	Err error
}

func (e *ConnectionFault) Error() string {
	return fmt.Sprintf("pipeline: connection fault during %s: %v", e.Op, e.Err)
}

func (e *ConnectionFault) Unwrap() error { return e.Err }

func IsConnectionFault(err error) bool {
	var cf *ConnectionFault
	return errors.As(err, &cf)
}

func isWriteError(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
