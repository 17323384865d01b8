package position

import (
	"errors"
	"fmt"
)

var (
	ErrExhaustedRetries = errors.New("tried to find a non-conflicting position too many times")
	ErrRecordNotFound   = errors.New("record not found")
	ErrUnknownField     = errors.New("unknown filter field")
	ErrInvalidConfig    = errors.New("invalid position config")
	ErrInvalidCursor    = errors.New("reformation cursor out of range")
)

// ExhaustedError is returned when every probe of the resolver collided.
// The partition most likely needs a reformation.
type ExhaustedError struct {
	Partition string
	Desired   float64
	Last      float64
	Attempts  int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("resolve position %v in partition %s: last candidate %v after %d attempts: %s",
		e.Desired, e.Partition, e.Last, e.Attempts, ErrExhaustedRetries)
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhaustedRetries
}

// ReformError reports a reformation that stopped part way through on a
// store without transactions. Updates before Next were applied; pass the
// error to Reformer.Resume to finish the plan.
type ReformError struct {
	Plan Plan
	Next int
	Err  error
}

func (e *ReformError) Error() string {
	return fmt.Sprintf("reform partition %s: applied %d of %d updates: %v",
		e.Plan.Partition, e.Next, len(e.Plan.Updates), e.Err)
}

func (e *ReformError) Unwrap() error {
	return e.Err
}
