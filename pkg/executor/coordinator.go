package executor

import (
	"context"
	"sort"
	"time"

	"ptxn/pkg/iface/engineif"
	"ptxn/pkg/iface/txnif"
	"ptxn/pkg/planner"
	"ptxn/pkg/procedure"
	"ptxn/pkg/txn/txnbase"
	"ptxn/pkg/types"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// coordinator runs the batches of one txn on its base partition and drives
// the participants of multi-partition batches.
type coordinator struct {
	pe       *PartitionExecutor
	txn      *txnbase.TxnState
	sessions map[int32]*joinTask
	order    []int32
}

func newCoordinator(pe *PartitionExecutor, txn *txnbase.TxnState) *coordinator {
	return &coordinator{
		pe:       pe,
		txn:      txn,
		sessions: make(map[int32]*joinTask),
	}
}

func (pe *PartitionExecutor) initiate(msg *InitiateTask) {
	ctx := msg.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	txn := msg.Txn
	coord := newCoordinator(pe, txn)
	runner := procedure.NewRunner(msg.Env, coord)
	resp, cause := runner.Call(ctx, txn, msg.Params)

	commit := resp.Status == procedure.StatusSuccess
	if err := coord.finish(commit); err != nil {
		resp.Status = procedure.StatusUnexpectedFailure
		resp.StatusString = err.Error()
		resp.Results = []*types.Table{}
		cause = err
		commit = false
	}

	txn.Lock()
	txn.SetError(cause)
	var err error
	switch {
	case commit:
		err = txn.ToCommittedLocked()
	case resp.Status == procedure.StatusMispredicted:
		err = txn.ToMispredictedLocked()
	default:
		err = txn.ToAbortedLocked()
	}
	txn.Unlock()
	if err != nil {
		logrus.Warnf("partition %d: %v", pe.id, err)
	}
	msg.Done <- &InitiateResult{Response: resp, Err: cause}
}

// ExecuteBatch runs plan and returns the result of every statement.
func (c *coordinator) ExecuteBatch(ctx context.Context, txn txnif.AsyncTxn, plan *planner.BatchPlan, final bool) ([]*types.Table, error) {
	token := c.pe.undoAlloc.Alloc()
	txn.Lock()
	txn.BeginUndoLocked(c.pe.id, token)
	txn.Unlock()

	var outputs map[int32]map[int32]*types.Table
	var err error
	if plan.SinglePartition {
		outputs, err = c.executeLocal(ctx, plan, token)
	} else {
		outputs, err = c.executeDistributed(ctx, plan, token, final)
	}
	if err != nil {
		return nil, err
	}
	results := make([]*types.Table, len(plan.StmtDeps))
	for i, dep := range plan.StmtDeps {
		for _, t := range outputs[dep] {
			results[i] = t
		}
		if results[i] == nil {
			return nil, errors.Errorf("txn %d: no result for statement %d", plan.TxnID, i)
		}
	}
	return results, nil
}

func (c *coordinator) executeLocal(ctx context.Context, plan *planner.BatchPlan, token uint64) (map[int32]map[int32]*types.Table, error) {
	results, err := c.pe.engine.ExecuteFragments(ctx, &engineif.FragmentRequest{
		TxnID:     plan.TxnID,
		Partition: c.pe.id,
		UndoToken: token,
		ReadOnly:  plan.ReadOnly,
		Tasks:     plan.LocalTasks(),
	})
	if err != nil {
		if uerr := c.pe.undoBatch(token); uerr != nil {
			return nil, uerr
		}
		return nil, err
	}
	fragmentsExecuted.WithLabelValues("local").Add(float64(len(plan.LocalTasks())))
	outputs := make(map[int32]map[int32]*types.Table, len(results))
	for dep, t := range results {
		outputs[dep] = map[int32]*types.Table{c.pe.id: t}
	}
	return outputs, nil
}

// executeDistributed runs the plan in rounds. A round holds every task whose
// inputs are complete; its remote part is sent to the participants while
// the local part runs here.
func (c *coordinator) executeDistributed(ctx context.Context, plan *planner.BatchPlan, token uint64, final bool) (map[int32]map[int32]*types.Table, error) {
	producers := make(map[int32]int)
	for _, task := range plan.Tasks {
		producers[task.OutputDep]++
	}
	outputs := make(map[int32]map[int32]*types.Table)
	complete := func(dep int32) bool {
		return len(outputs[dep]) == producers[dep]
	}
	done := make([]bool, len(plan.Tasks))
	remaining := len(plan.Tasks)

	for remaining > 0 {
		round := make(map[int32][]*planner.FragmentTask)
		for _, task := range plan.Tasks {
			if done[task.ID] {
				continue
			}
			ready := true
			for _, dep := range task.InputDeps {
				if !complete(dep) {
					ready = false
					break
				}
			}
			if ready {
				round[task.Partition] = append(round[task.Partition], task)
			}
		}
		if len(round) == 0 {
			return nil, planner.ErrCyclicPlan
		}

		reply := make(chan *FragmentResponse, len(round))
		sent := 0
		for part, tasks := range round {
			if part == c.pe.id {
				continue
			}
			session, err := c.session(part)
			if err != nil {
				return nil, err
			}
			session.inbox <- &FragmentTask{
				TxnID:    plan.TxnID,
				ReadOnly: plan.ReadOnly,
				Final:    final,
				Tasks:    tasks,
				Inputs:   inputsOf(tasks, outputs),
				Reply:    reply,
			}
			sent++
		}
		if local := round[c.pe.id]; len(local) > 0 {
			results, err := c.pe.engine.ExecuteFragments(ctx, &engineif.FragmentRequest{
				TxnID:     plan.TxnID,
				Partition: c.pe.id,
				UndoToken: token,
				ReadOnly:  plan.ReadOnly,
				Tasks:     local,
				Inputs:    inputsOf(local, outputs),
			})
			fragmentsExecuted.WithLabelValues("local").Add(float64(len(local)))
			// remote replies still have to be drained before giving up
			if err != nil {
				_ = c.await(ctx, reply, sent, outputs)
				if uerr := c.pe.undoBatch(token); uerr != nil {
					return nil, uerr
				}
				return nil, err
			}
			record(outputs, c.pe.id, results)
		}
		if err := c.await(ctx, reply, sent, outputs); err != nil {
			if uerr := c.pe.undoBatch(token); uerr != nil {
				return nil, uerr
			}
			return nil, err
		}
		for _, tasks := range round {
			for _, task := range tasks {
				done[task.ID] = true
				remaining--
			}
		}
	}
	return outputs, nil
}

func (c *coordinator) await(ctx context.Context, reply chan *FragmentResponse, n int, outputs map[int32]map[int32]*types.Table) error {
	var firstErr error
	timer := time.NewTimer(c.pe.exec.opts.FragmentTimeout)
	defer timer.Stop()
	for i := 0; i < n; i++ {
		select {
		case resp := <-reply:
			if resp.Err != nil {
				if firstErr == nil {
					firstErr = resp.Err
				}
				continue
			}
			record(outputs, resp.Partition, resp.Results)
		case <-timer.C:
			return errors.Wrapf(ErrFragmentTimeout, "txn %d, %d of %d responses", c.txn.GetID(), i, n)
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "txn %d", c.txn.GetID())
		}
	}
	return firstErr
}

func record(outputs map[int32]map[int32]*types.Table, part int32, results map[int32]*types.Table) {
	for dep, t := range results {
		if outputs[dep] == nil {
			outputs[dep] = make(map[int32]*types.Table)
		}
		outputs[dep][part] = t
	}
}

// inputsOf collects the input tables of tasks ordered by producing
// partition.
func inputsOf(tasks []*planner.FragmentTask, outputs map[int32]map[int32]*types.Table) map[int32][]*types.Table {
	var inputs map[int32][]*types.Table
	for _, task := range tasks {
		for _, dep := range task.InputDeps {
			if inputs == nil {
				inputs = make(map[int32][]*types.Table)
			}
			parts := make([]int32, 0, len(outputs[dep]))
			for part := range outputs[dep] {
				parts = append(parts, part)
			}
			sort.Slice(parts, func(i, j int) bool { return parts[i] < parts[j] })
			tables := make([]*types.Table, len(parts))
			for i, part := range parts {
				tables[i] = outputs[dep][part]
			}
			inputs[dep] = tables
		}
	}
	return inputs
}

// session returns the inbox of a participant, dedicating it to the txn on
// first use.
func (c *coordinator) session(part int32) (*joinTask, error) {
	if s, ok := c.sessions[part]; ok {
		return s, nil
	}
	pe, err := c.pe.exec.Partition(part)
	if err != nil {
		return nil, err
	}
	s := &joinTask{txn: c.txn, inbox: make(chan interface{}, 4)}
	if err = pe.enqueue(s); err != nil {
		return nil, err
	}
	c.sessions[part] = s
	c.order = append(c.order, part)
	return s, nil
}

// finish commits or rolls back the txn on every partition it used, going by
// the undo ranges recorded in the txn. Fatal errors halt the partition they
// happen on.
func (c *coordinator) finish(commit bool) error {
	var firstErr error
	if r, ok := c.txn.UndoRange(c.pe.id); ok {
		firstErr = c.pe.endUndo(commit, r.First, r.Last)
	}
	acks := make(chan error, len(c.order))
	for _, part := range c.order {
		c.sessions[part].inbox <- &FinishTask{TxnID: c.txn.GetID(), Commit: commit, Ack: acks}
	}
	for range c.order {
		if err := <-acks; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
