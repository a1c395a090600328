package procedure

import (
	"context"
	"time"

	"ptxn/pkg/catalog"
	"ptxn/pkg/iface/txnif"
	"ptxn/pkg/planner"
	"ptxn/pkg/types"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BatchExecutor runs one planned batch of a txn and returns one result table
// per statement.
type BatchExecutor interface {
	ExecuteBatch(ctx context.Context, txn txnif.AsyncTxn, plan *planner.BatchPlan, final bool) ([]*types.Table, error)
}

// Env is what every partition shares for one catalog version.
type Env struct {
	Catalog      *catalog.Catalog
	Registry     *Registry
	Cache        *planner.Cache
	Estimator    *planner.PartitionEstimator
	MaxBatchSize int
}

// Context is handed to procedure code for exactly one invocation attempt.
type Context struct {
	ctx   context.Context
	env   *Env
	exec  BatchExecutor
	txn   txnif.AsyncTxn
	proc  *catalog.Procedure
	queue *BatchQueue

	appStatus       int8
	appStatusString string
	batches         int

	mispredicted *planner.MispredictionError
	planningErr  error
}

func newContext(ctx context.Context, env *Env, exec BatchExecutor, txn txnif.AsyncTxn, proc *catalog.Procedure) *Context {
	return &Context{
		ctx:       ctx,
		env:       env,
		exec:      exec,
		txn:       txn,
		proc:      proc,
		queue:     NewBatchQueue(env.MaxBatchSize),
		appStatus: UninitializedAppStatus,
	}
}

func (c *Context) Context() context.Context      { return c.ctx }
func (c *Context) TxnID() uint64                 { return c.txn.GetID() }
func (c *Context) BasePartition() int32          { return c.txn.GetBasePartition() }
func (c *Context) Procedure() *catalog.Procedure { return c.proc }

// TransactionTime is the same on every replica of the txn.
func (c *Context) TransactionTime() time.Time {
	return c.txn.GetTxnTime()
}

func (c *Context) SetAppStatus(code int8, msg string) {
	c.appStatus = code
	c.appStatusString = msg
}

// QueueSQL adds a call of the named statement to the current batch.
// Overflowing the batch is a bug in the procedure and panics.
func (c *Context) QueueSQL(name string, args ...interface{}) error {
	stmt := c.proc.Statement(name)
	if stmt == nil {
		return errors.Wrapf(ErrUnknownStatement, "%s.%s", c.proc.Name, name)
	}
	cleaned, err := CleanStatementParams(stmt, args)
	if err != nil {
		return err
	}
	if err = c.queue.Add(stmt, cleaned); err != nil {
		panic(errors.WithStack(err))
	}
	return nil
}

// ExecuteSQL plans and runs the queued statements and empties the queue.
// final tells the executor no more batches follow. Once the txn has
// mispredicted every later call fails with the same error.
func (c *Context) ExecuteSQL(final bool) ([]*types.Table, error) {
	if c.mispredicted != nil {
		return nil, c.mispredicted
	}
	if c.planningErr != nil {
		return nil, c.planningErr
	}
	stmts, args := c.queue.Drain()
	if len(stmts) == 0 {
		return []*types.Table{}, nil
	}
	bp, err := c.env.Cache.GetOrCreate(c.env.Catalog, stmts)
	if err != nil {
		c.planningErr = err
		return nil, err
	}
	plan, err := bp.Plan(c.txn.GetID(), c.txn.GetBasePartition(), c.txn.IsPredictedSinglePartition(), args, c.env.Estimator)
	if err != nil {
		c.planningErr = err
		return nil, err
	}
	if plan.Mispredicted {
		c.mispredicted = plan.MispredictionError()
		return nil, c.mispredicted
	}
	c.batches++
	batchesExecuted.WithLabelValues(planKind(plan)).Inc()
	logrus.Debugf("txn %d batch %d: %d statements on %s", c.txn.GetID(), c.batches, len(stmts), plan.Partitions.String())

	results, err := c.exec.ExecuteBatch(c.ctx, c.txn, plan, final)
	c.txn.Lock()
	if aerr := c.txn.AddFinishedBatchPlanLocked(plan); aerr != nil && err == nil {
		err = aerr
	}
	c.txn.Unlock()
	if err != nil {
		return nil, err
	}
	return results, nil
}

func planKind(plan *planner.BatchPlan) string {
	if plan.SinglePartition {
		return "single"
	}
	return "multi"
}
