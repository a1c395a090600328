package executor

import (
	"context"

	"ptxn/pkg/planner"
	"ptxn/pkg/procedure"
	"ptxn/pkg/txn/txnbase"
	"ptxn/pkg/types"
)

// InitiateTask starts one attempt of a txn on its base partition.
type InitiateTask struct {
	Ctx    context.Context
	Txn    *txnbase.TxnState
	Params []interface{}
	Env    *procedure.Env
	// Done receives exactly one result.
	Done chan *InitiateResult
}

func NewInitiateTask(ctx context.Context, txn *txnbase.TxnState, params []interface{}, env *procedure.Env) *InitiateTask {
	return &InitiateTask{
		Ctx:    ctx,
		Txn:    txn,
		Params: params,
		Env:    env,
		Done:   make(chan *InitiateResult, 1),
	}
}

type InitiateResult struct {
	Response *procedure.ClientResponse
	// Err is the cause of a non success status.
	Err error
}

// FragmentTask asks a participant to run its tasks of one batch.
type FragmentTask struct {
	TxnID    uint64
	ReadOnly bool
	Final    bool
	Tasks    []*planner.FragmentTask
	Inputs   map[int32][]*types.Table
	Reply    chan *FragmentResponse
}

type FragmentResponse struct {
	Partition int32
	Results   map[int32]*types.Table
	Err       error
}

// FinishTask ends the participation of a partition in a txn.
type FinishTask struct {
	TxnID  uint64
	Commit bool
	Ack    chan error
}

// joinTask dedicates a participant to one multi-partition txn. Every later
// message of the txn for that partition goes through inbox.
type joinTask struct {
	txn   *txnbase.TxnState
	inbox chan interface{}
}
