package txnif

import (
	"sync"
	"time"

	"ptxn/pkg/common"
	"ptxn/pkg/planner"
)

type TxnReader interface {
	GetID() uint64
	GetClientHandle() uint64
	GetProcName() string
	GetBasePartition() int32
	IsPredictedSinglePartition() bool
	GetTxnTime() time.Time
	GetTxnState() int32
	GetRestarts() int
	IsTerminated() bool
	String() string
}

type TxnChanger interface {
	sync.Locker
	RLock()
	RUnlock()
	ToExecutingLocked() error
	ToCommittedLocked() error
	ToAbortedLocked() error
	ToMispredictedLocked() error
	AddFinishedBatchPlanLocked(plan *planner.BatchPlan) error
	BeginUndoLocked(partition int32, token uint64)
	SetError(error)
	GetError() error
}

type AsyncTxn interface {
	TxnReader
	TxnChanger
	GetTouched() *common.PartitionSet
}
