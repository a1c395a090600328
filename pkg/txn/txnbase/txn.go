package txnbase

import (
	"fmt"
	"sync"
	"time"

	"ptxn/pkg/common"
	"ptxn/pkg/iface/txnif"
	"ptxn/pkg/planner"

	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
)

// UndoRange is the first and last undo token a txn used on one partition.
type UndoRange struct {
	First, Last uint64
}

// TxnState is the per-attempt record of one stored procedure invocation.
// Every mutation happens with the embedded lock held.
type TxnState struct {
	sync.RWMutex
	ID            uint64
	ClientHandle  uint64
	ProcName      string
	BasePartition int32
	PredictSingle bool
	Restarts      int
	State         int32
	Err           error

	plans   []*planner.BatchPlan
	touched *common.PartitionSet
	undo    map[int32]*UndoRange
}

func NewTxnState(id, handle uint64, proc string, base int32, predictSingle bool) *TxnState {
	txn := new(TxnState)
	txn.init(id, handle, proc, base, predictSingle)
	return txn
}

func (txn *TxnState) init(id, handle uint64, proc string, base int32, predictSingle bool) {
	txn.ID = id
	txn.ClientHandle = handle
	txn.ProcName = proc
	txn.BasePartition = base
	txn.PredictSingle = predictSingle
	txn.Restarts = 0
	txn.State = txnif.TxnStateDispatched
	txn.Err = nil
	txn.plans = txn.plans[:0]
	if txn.touched == nil {
		txn.touched = common.NewPartitionSet()
	} else {
		txn.touched.Clear()
	}
	txn.undo = make(map[int32]*UndoRange)
}

func (txn *TxnState) GetID() uint64                    { return txn.ID }
func (txn *TxnState) GetClientHandle() uint64          { return txn.ClientHandle }
func (txn *TxnState) GetProcName() string              { return txn.ProcName }
func (txn *TxnState) GetBasePartition() int32          { return txn.BasePartition }
func (txn *TxnState) IsPredictedSinglePartition() bool { return txn.PredictSingle }
func (txn *TxnState) GetRestarts() int                 { return txn.Restarts }
func (txn *TxnState) SetError(err error)               { txn.Err = err }
func (txn *TxnState) GetError() error                  { return txn.Err }

// GetTxnTime is the wall clock time embedded in the txn id. All replicas
// executing the txn observe the same value.
func (txn *TxnState) GetTxnTime() time.Time {
	ms := snowflake.ID(int64(txn.ID)).Time()
	return time.Unix(0, ms*int64(time.Millisecond))
}

func (txn *TxnState) GetTxnState() int32 {
	txn.RLock()
	defer txn.RUnlock()
	return txn.State
}

func (txn *TxnState) IsTerminated() bool {
	state := txn.GetTxnState()
	return state == txnif.TxnStateCommitted ||
		state == txnif.TxnStateAborted ||
		state == txnif.TxnStateMispredicted
}

// GetTouched returns a copy of the partitions touched by finished plans.
func (txn *TxnState) GetTouched() *common.PartitionSet {
	txn.RLock()
	defer txn.RUnlock()
	return txn.touched.Clone()
}

func (txn *TxnState) transition(from []int32, to int32) error {
	for _, state := range from {
		if txn.State == state {
			txn.State = to
			return nil
		}
	}
	return errors.Wrapf(ErrTxnStateTransition, "txn %d: %s -> %s",
		txn.ID, txnif.StateString(txn.State), txnif.StateString(to))
}

func (txn *TxnState) ToExecutingLocked() error {
	return txn.transition([]int32{txnif.TxnStateDispatched}, txnif.TxnStateExecuting)
}

func (txn *TxnState) ToCommittedLocked() error {
	return txn.transition([]int32{txnif.TxnStateExecuting}, txnif.TxnStateCommitted)
}

// ToAbortedLocked is also legal before execution starts, e.g. when the
// arguments cannot be bound.
func (txn *TxnState) ToAbortedLocked() error {
	return txn.transition([]int32{txnif.TxnStateDispatched, txnif.TxnStateExecuting}, txnif.TxnStateAborted)
}

func (txn *TxnState) ToMispredictedLocked() error {
	return txn.transition([]int32{txnif.TxnStateExecuting}, txnif.TxnStateMispredicted)
}

func (txn *TxnState) AddFinishedBatchPlanLocked(plan *planner.BatchPlan) error {
	if txn.State != txnif.TxnStateExecuting {
		return errors.Wrapf(ErrTxnNotExecuting, "txn %d is %s", txn.ID, txnif.StateString(txn.State))
	}
	txn.plans = append(txn.plans, plan)
	txn.touched.Union(plan.Partitions)
	return nil
}

// BeginUndoLocked records an undo token used on partition. Tokens of one
// partition are handed out in increasing order.
func (txn *TxnState) BeginUndoLocked(partition int32, token uint64) {
	r, ok := txn.undo[partition]
	if !ok {
		txn.undo[partition] = &UndoRange{First: token, Last: token}
		return
	}
	r.Last = token
}

func (txn *TxnState) UndoRange(partition int32) (UndoRange, bool) {
	txn.RLock()
	defer txn.RUnlock()
	r, ok := txn.undo[partition]
	if !ok {
		return UndoRange{}, false
	}
	return *r, true
}

func (txn *TxnState) Plans() []*planner.BatchPlan {
	txn.RLock()
	defer txn.RUnlock()
	return append([]*planner.BatchPlan(nil), txn.plans...)
}

func (txn *TxnState) String() string {
	txn.RLock()
	defer txn.RUnlock()
	return fmt.Sprintf("Txn<%d,%s,base=%d,sp=%v,%s,restarts=%d>",
		txn.ID, txn.ProcName, txn.BasePartition, txn.PredictSingle,
		txnif.StateString(txn.State), txn.Restarts)
}
