package planner

import (
	"fmt"

	"ptxn/pkg/common"

	"github.com/pkg/errors"
)

var (
	ErrEmptyBatch   = errors.New("ptxn: empty batch")
	ErrArgsMismatch = errors.New("ptxn: batch arguments do not match statements")
	ErrCyclicPlan   = errors.New("ptxn: plan graph has a cycle")
	ErrBadEdge      = errors.New("ptxn: plan vertex has more than one input edge")
)

// PlanningError reports a catalog inconsistency or an internal planner bug.
// It is not retried.
type PlanningError struct {
	Procedure string
	Err       error
}

func newPlanningError(proc string, err error) *PlanningError {
	return &PlanningError{Procedure: proc, Err: err}
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("planning error in %s: %v", e.Procedure, e.Err)
}

func (e *PlanningError) Cause() error  { return e.Err }
func (e *PlanningError) Unwrap() error { return e.Err }

// MispredictionError signals that a transaction dispatched as single
// partition touches other partitions and has to restart as multi-partition.
type MispredictionError struct {
	TxnID   uint64
	Base    int32
	Touched *common.PartitionSet
}

func (e *MispredictionError) Error() string {
	return fmt.Sprintf("txn %d mispredicted: base partition %d, touched %s", e.TxnID, e.Base, e.Touched.String())
}

func IsPlanningError(err error) bool {
	var pe *PlanningError
	return errors.As(err, &pe)
}

// AsMisprediction returns the misprediction wrapped in err, if any.
func AsMisprediction(err error) (*MispredictionError, bool) {
	var me *MispredictionError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
