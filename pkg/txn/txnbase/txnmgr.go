package txnbase

import (
	"sync"

	"ptxn/pkg/iface/txnif"

	"github.com/bwmarrin/snowflake"
	"github.com/matrixorigin/matrixone/pkg/vm/engine/aoe/storage/logstore/sm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	queue "github.com/yireyun/go-queue"
)

const defaultPoolSize = 1024

type OpType int8

const (
	OpFinish OpType = iota
	OpRestart
)

type OpTxn struct {
	Txn *TxnState
	Op  OpType
}

// TxnManager hands out txn ids and tracks every live attempt. Finished
// attempts go through the state machine and are recycled once no longer
// active.
type TxnManager struct {
	sync.RWMutex
	sm.ClosedState
	sm.StateMachine
	Active map[uint64]*TxnState
	node   *snowflake.Node
	pool   *queue.EsQueue
}

func NewTxnManager(nodeID int64) (*TxnManager, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, errors.Wrapf(err, "txn manager node %d", nodeID)
	}
	mgr := &TxnManager{
		Active: make(map[uint64]*TxnState),
		node:   node,
		pool:   queue.NewQueue(defaultPoolSize),
	}
	rqueue := sm.NewSafeQueue(10000, 200, mgr.onFinishing)
	cqueue := sm.NewSafeQueue(10000, 200, mgr.onRecycle)
	mgr.StateMachine = sm.NewStateMachine(new(sync.WaitGroup), mgr, rqueue, cqueue)
	return mgr, nil
}

func (mgr *TxnManager) alloc() *TxnState {
	if v, ok, _ := mgr.pool.Get(); ok {
		return v.(*TxnState)
	}
	return new(TxnState)
}

// StartTxn registers a new attempt in the Dispatched state.
func (mgr *TxnManager) StartTxn(handle uint64, proc string, base int32, predictSingle bool) *TxnState {
	txn := mgr.alloc()
	mgr.Lock()
	defer mgr.Unlock()
	id := uint64(mgr.node.Generate().Int64())
	txn.Lock()
	txn.init(id, handle, proc, base, predictSingle)
	txn.Unlock()
	mgr.Active[id] = txn
	return txn
}

// Restart creates the follow up attempt of a mispredicted or failed txn. The
// new attempt keeps the client handle, gets a fresh id and is dispatched as
// multi-partition.
func (mgr *TxnManager) Restart(prev *TxnState) *TxnState {
	prev.RLock()
	handle, proc, base, restarts := prev.ClientHandle, prev.ProcName, prev.BasePartition, prev.Restarts
	prev.RUnlock()
	txn := mgr.StartTxn(handle, proc, base, false)
	txn.Lock()
	txn.Restarts = restarts + 1
	txn.Unlock()
	mgr.Release(prev)
	return txn
}

func (mgr *TxnManager) GetTxn(id uint64) txnif.AsyncTxn {
	mgr.RLock()
	defer mgr.RUnlock()
	if txn, ok := mgr.Active[id]; ok {
		return txn
	}
	return nil
}

func (mgr *TxnManager) ActiveCount() int {
	mgr.RLock()
	defer mgr.RUnlock()
	return len(mgr.Active)
}

// Release retires a terminated attempt. The caller must not use txn
// afterwards.
func (mgr *TxnManager) Release(txn *TxnState) {
	if _, err := mgr.EnqueueRecevied(&OpTxn{Txn: txn, Op: OpFinish}); err != nil {
		logrus.Warnf("release %s: %v", txn.String(), err)
		mgr.Lock()
		delete(mgr.Active, txn.ID)
		mgr.Unlock()
	}
}

func (mgr *TxnManager) onFinishing(items ...interface{}) {
	for _, item := range items {
		op := item.(*OpTxn)
		mgr.Lock()
		delete(mgr.Active, op.Txn.ID)
		mgr.Unlock()
		logrus.Debugf("%s finished", op.Txn.String())
		mgr.EnqueueCheckpoint(op)
	}
}

func (mgr *TxnManager) onRecycle(items ...interface{}) {
	for _, item := range items {
		op := item.(*OpTxn)
		op.Txn.Lock()
		op.Txn.plans = nil
		op.Txn.undo = nil
		op.Txn.Unlock()
		if ok, _ := mgr.pool.Put(op.Txn); !ok {
			logrus.Debugf("txn pool full, dropping %d", op.Txn.ID)
		}
	}
}
