package executor

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrPartitionHalted = errors.New("ptxn: partition halted")
	ErrNoPartition     = errors.New("ptxn: no such partition")
	ErrFragmentTimeout = errors.New("ptxn: timed out waiting for fragment responses")
)

// FatalError means partition state may be corrupted. The partition stops
// accepting work.
type FatalError struct {
	Partition int32
	Err       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error on partition %d: %v", e.Partition, e.Err)
}

func (e *FatalError) Cause() error  { return e.Err }
func (e *FatalError) Unwrap() error { return e.Err }

func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
