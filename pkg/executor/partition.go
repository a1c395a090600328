package executor

import (
	"context"
	"sync"
	"sync/atomic"

	"ptxn/pkg/iface/engineif"
	"ptxn/pkg/procedure"

	"github.com/matrixorigin/matrixone/pkg/vm/engine/aoe/storage/common"
	"github.com/matrixorigin/matrixone/pkg/vm/engine/aoe/storage/logstore/sm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PartitionExecutor is the single worker of one partition. Everything it
// runs comes through its queue in FIFO order.
type PartitionExecutor struct {
	id        int32
	exec      *Executor
	engine    engineif.Engine
	queue     sm.Queue
	undoAlloc *common.IdAlloctor

	halted  int32
	haltMu  sync.Mutex
	haltErr error
}

func newPartitionExecutor(exec *Executor, engine engineif.Engine, queueSize, batchSize int) *PartitionExecutor {
	pe := &PartitionExecutor{
		id:        engine.Partition(),
		exec:      exec,
		engine:    engine,
		undoAlloc: common.NewIdAlloctor(1),
	}
	pe.queue = sm.NewSafeQueue(queueSize, batchSize, pe.onItems)
	return pe
}

func (pe *PartitionExecutor) ID() int32 { return pe.id }

func (pe *PartitionExecutor) IsHalted() bool {
	return atomic.LoadInt32(&pe.halted) == 1
}

func (pe *PartitionExecutor) HaltError() error {
	pe.haltMu.Lock()
	defer pe.haltMu.Unlock()
	return pe.haltErr
}

func (pe *PartitionExecutor) halt(err error) {
	pe.haltMu.Lock()
	defer pe.haltMu.Unlock()
	if !atomic.CompareAndSwapInt32(&pe.halted, 0, 1) {
		return
	}
	pe.haltErr = err
	partitionHalts.Inc()
	logrus.Errorf("partition %d halted: %v", pe.id, err)
}

func (pe *PartitionExecutor) enqueue(item interface{}) error {
	if pe.IsHalted() {
		return errors.Wrapf(ErrPartitionHalted, "partition %d", pe.id)
	}
	_, err := pe.queue.Enqueue(item)
	return err
}

func (pe *PartitionExecutor) onItems(items ...interface{}) {
	for _, item := range items {
		switch msg := item.(type) {
		case *InitiateTask:
			if pe.IsHalted() {
				pe.rejectInitiate(msg)
				continue
			}
			pe.initiate(msg)
		case *joinTask:
			if pe.IsHalted() {
				go pe.rejectSession(msg)
				continue
			}
			pe.participate(msg)
		default:
			logrus.Warnf("partition %d: unexpected message %T", pe.id, item)
		}
	}
}

func (pe *PartitionExecutor) rejectInitiate(msg *InitiateTask) {
	err := errors.Wrapf(ErrPartitionHalted, "partition %d", pe.id)
	resp := procedure.NewErrorResponse(msg.Txn.GetClientHandle(), msg.Txn.GetID(),
		procedure.StatusUnexpectedFailure, err.Error())
	msg.Txn.Lock()
	msg.Txn.SetError(err)
	_ = msg.Txn.ToAbortedLocked()
	msg.Txn.Unlock()
	msg.Done <- &InitiateResult{Response: resp, Err: err}
}

// rejectSession answers every message of a session with an error until the
// coordinator finishes it.
func (pe *PartitionExecutor) rejectSession(join *joinTask) {
	err := errors.Wrapf(ErrPartitionHalted, "partition %d", pe.id)
	for m := range join.inbox {
		switch msg := m.(type) {
		case *FragmentTask:
			msg.Reply <- &FragmentResponse{Partition: pe.id, Err: err}
		case *FinishTask:
			msg.Ack <- err
			return
		}
	}
}

// participate serves one multi-partition txn until it finishes. No other
// work runs on the partition in between.
func (pe *PartitionExecutor) participate(join *joinTask) {
	for m := range join.inbox {
		switch msg := m.(type) {
		case *FragmentTask:
			token := pe.undoAlloc.Alloc()
			join.txn.Lock()
			join.txn.BeginUndoLocked(pe.id, token)
			join.txn.Unlock()
			results, err := pe.engine.ExecuteFragments(context.Background(), &engineif.FragmentRequest{
				TxnID:     msg.TxnID,
				Partition: pe.id,
				UndoToken: token,
				ReadOnly:  msg.ReadOnly,
				Tasks:     msg.Tasks,
				Inputs:    msg.Inputs,
			})
			fragmentsExecuted.WithLabelValues("remote").Add(float64(len(msg.Tasks)))
			if err != nil {
				if uerr := pe.undoBatch(token); uerr != nil {
					err = uerr
				}
			}
			msg.Reply <- &FragmentResponse{Partition: pe.id, Results: results, Err: err}
		case *FinishTask:
			var err error
			if r, ok := join.txn.UndoRange(pe.id); ok {
				err = pe.endUndo(msg.Commit, r.First, r.Last)
			}
			logrus.Debugf("partition %d finished txn %d commit=%v", pe.id, msg.TxnID, msg.Commit)
			msg.Ack <- err
			return
		}
	}
}

// endUndo releases or rolls back the writes made under [first, last]. A
// failure leaves partition state unknown and halts the partition.
func (pe *PartitionExecutor) endUndo(commit bool, first, last uint64) error {
	var err error
	if commit {
		err = pe.engine.Release(last)
	} else {
		err = pe.engine.Undo(first)
	}
	if err != nil {
		fatal := &FatalError{Partition: pe.id, Err: err}
		pe.halt(fatal)
		return fatal
	}
	return nil
}

// undoBatch rolls back a failed batch so that a batch is applied entirely or
// not at all.
func (pe *PartitionExecutor) undoBatch(token uint64) error {
	if err := pe.engine.Undo(token); err != nil {
		fatal := &FatalError{Partition: pe.id, Err: err}
		pe.halt(fatal)
		return fatal
	}
	return nil
}
