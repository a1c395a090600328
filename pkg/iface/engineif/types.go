package engineif

import (
	"context"
	"fmt"

	"ptxn/pkg/planner"
	"ptxn/pkg/types"
)

// FragmentRequest is the work one partition runs for one batch. Tasks are in
// plan order and Inputs holds, per dependency id, the tables produced by
// other tasks ordered by producing partition.
type FragmentRequest struct {
	TxnID     uint64
	Partition int32
	UndoToken uint64
	ReadOnly  bool
	Tasks     []*planner.FragmentTask
	Inputs    map[int32][]*types.Table
}

// Engine executes compiled fragments against the data of one partition.
// Every write made under an undo token can be rolled back with Undo until it
// is released.
type Engine interface {
	Partition() int32
	// ExecuteFragments returns the output table of each task keyed by its
	// output dependency id.
	ExecuteFragments(ctx context.Context, req *FragmentRequest) (map[int32]*types.Table, error)
	// Undo rolls back every write made under token or a later one.
	Undo(token uint64) error
	// Release makes every write made under token or an earlier one permanent.
	Release(token uint64) error
}

// ConstraintError is raised when a write violates a table constraint.
type ConstraintError struct {
	Table string
	Key   string
	Msg   string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violation on %s key %s: %s", e.Table, e.Key, e.Msg)
}

// SQLError is raised when a fragment cannot be evaluated.
type SQLError struct {
	Statement string
	Msg       string
}

func (e *SQLError) Error() string {
	return fmt.Sprintf("sql error in %s: %s", e.Statement, e.Msg)
}
