package executor

import (
	"context"
	"testing"
	"time"

	"ptxn/pkg/catalog"
	"ptxn/pkg/engine/memengine"
	"ptxn/pkg/iface/engineif"
	"ptxn/pkg/iface/txnif"
	"ptxn/pkg/planner"
	"ptxn/pkg/procedure"
	"ptxn/pkg/txn/txnbase"
	"ptxn/pkg/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

const (
	testPartitions = 4
	transferLimit  = 1000
)

// runTransfer moves money between two accounts in one batch and refuses
// large amounts after the fact.
func runTransfer(ctx *procedure.Context, args []interface{}) (interface{}, error) {
	from, to, amount := args[0], args[1], args[2].(int64)
	if err := ctx.QueueSQL("debit", amount, from); err != nil {
		return nil, err
	}
	if err := ctx.QueueSQL("credit", amount, to); err != nil {
		return nil, err
	}
	results, err := ctx.ExecuteSQL(true)
	if err != nil {
		return nil, err
	}
	if amount > transferLimit {
		return nil, procedure.Abort("transfer of %d needs approval", amount)
	}
	return results, nil
}

func transferDescriptor() *procedure.Descriptor {
	bigint := types.Param(types.T_bigint)
	return &procedure.Descriptor{
		Def: catalog.ProcedureDef{
			Name:           "Transfer",
			Params:         []types.ParamType{bigint, bigint, bigint},
			PartitionParam: 0,
			Statements: []catalog.StatementDef{
				{Name: "debit", SQL: "UPDATE ACCOUNTS SET BALANCE = BALANCE - ? WHERE ID = ?"},
				{Name: "credit", SQL: "UPDATE ACCOUNTS SET BALANCE = BALANCE + ? WHERE ID = ?"},
			},
		},
		Run: runTransfer,
	}
}

// runShift debits on the base partition and credits in a second batch, so
// the credit may land elsewhere after the debit already ran.
func runShift(ctx *procedure.Context, args []interface{}) (interface{}, error) {
	from, to, amount := args[0], args[1], args[2]
	if err := ctx.QueueSQL("debit", amount, from); err != nil {
		return nil, err
	}
	if _, err := ctx.ExecuteSQL(false); err != nil {
		return nil, err
	}
	if err := ctx.QueueSQL("credit", amount, to); err != nil {
		return nil, err
	}
	return ctx.ExecuteSQL(true)
}

func shiftDescriptor() *procedure.Descriptor {
	desc := transferDescriptor()
	desc.Def.Name = "Shift"
	desc.Run = runShift
	return desc
}

// failingEngine fails every rollback.
type failingEngine struct {
	*memengine.Engine
}

func (e *failingEngine) Undo(token uint64) error {
	return errors.Errorf("undo of token %d failed", token)
}

type testEnv struct {
	exec    *Executor
	engines []*memengine.Engine
	env     *procedure.Env
	nextID  uint64
}

func newTestEnv(t *testing.T, wrap func(engineif.Engine) engineif.Engine) *testEnv {
	reg := procedure.MockBankRegistry().MustRegister(transferDescriptor(), shiftDescriptor())
	cat, err := reg.BuildCatalog(1, catalog.MockBankTables()...)
	assert.Nil(t, err)
	hasher := planner.NewDefaultHasher(testPartitions)
	te := &testEnv{
		env: &procedure.Env{
			Catalog:   cat,
			Registry:  reg,
			Cache:     planner.NewCache(),
			Estimator: planner.NewPartitionEstimator(hasher),
		},
	}
	engines := make([]engineif.Engine, testPartitions)
	for i := range engines {
		e := memengine.New(int32(i), cat)
		te.engines = append(te.engines, e)
		engines[i] = e
		if wrap != nil {
			engines[i] = wrap(e)
		}
	}
	accounts := [][]interface{}{
		{int64(42), "alice", int64(100), int64(1)},
		{int64(43), "bob", int64(50), int64(1)},
	}
	for _, row := range accounts {
		assert.Nil(t, te.engines[hasher.Hash(row[0])].Load("ACCOUNTS", row))
	}
	te.exec, err = New(engines, Options{FragmentTimeout: 2 * time.Second})
	assert.Nil(t, err)
	te.exec.Start()
	return te
}

func (te *testEnv) invoke(t *testing.T, proc string, base int32, predictSingle bool, params ...interface{}) (*txnbase.TxnState, *InitiateResult) {
	te.nextID++
	txn := txnbase.NewTxnState(te.nextID, 1000+te.nextID, proc, base, predictSingle)
	task := NewInitiateTask(context.Background(), txn, params, te.env)
	assert.Nil(t, te.exec.Initiate(task))
	select {
	case res := <-task.Done:
		return txn, res
	case <-time.After(5 * time.Second):
		t.Fatalf("txn %d of %s timed out", txn.GetID(), proc)
	}
	return nil, nil
}

func (te *testEnv) balance(t *testing.T, id int64) int64 {
	for _, e := range te.engines {
		rows, err := e.Rows("ACCOUNTS")
		assert.Nil(t, err)
		for _, row := range rows {
			if row[0] == id {
				return row[2].(int64)
			}
		}
	}
	t.Fatalf("account %d not found", id)
	return 0
}

func TestSinglePartitionCommit(t *testing.T) {
	te := newTestEnv(t, nil)
	defer te.exec.Stop()

	txn, res := te.invoke(t, "Deposit", 2, true, int64(42), int64(25))
	assert.Nil(t, res.Err)
	assert.Equal(t, procedure.StatusSuccess, res.Response.Status)
	assert.Equal(t, txn.GetID(), res.Response.TxnID)
	assert.Equal(t, txnif.TxnStateCommitted, txn.GetTxnState())
	assert.Equal(t, int64(125), te.balance(t, 42))
	assert.Equal(t, 0, te.engines[2].UndoLogLen())

	txn, res = te.invoke(t, "Withdraw", 2, true, int64(42), int64(20))
	assert.Equal(t, procedure.StatusSuccess, res.Response.Status)
	assert.Equal(t, int64(105), scalarOf(t, res.Response.Results[0]))
	assert.Equal(t, int64(105), te.balance(t, 42))
	assert.Equal(t, 2, len(txn.Plans()))
}

func scalarOf(t *testing.T, table *types.Table) int64 {
	v, err := table.AsScalarLong()
	assert.Nil(t, err)
	return v
}

func TestUserAbort(t *testing.T) {
	te := newTestEnv(t, nil)
	defer te.exec.Stop()

	txn, res := te.invoke(t, "Withdraw", 2, true, int64(42), int64(500))
	assert.Equal(t, procedure.StatusUserAbort, res.Response.Status)
	assert.Equal(t, procedure.AppStatusInsufficientFunds, res.Response.AppStatus)
	assert.Equal(t, txnif.TxnStateAborted, txn.GetTxnState())
	assert.Equal(t, int64(100), te.balance(t, 42))

	// both partitions roll back
	txn, res = te.invoke(t, "Transfer", 2, false, int64(42), int64(43), int64(5000))
	assert.Equal(t, procedure.StatusUserAbort, res.Response.Status)
	assert.Equal(t, txnif.TxnStateAborted, txn.GetTxnState())
	assert.Equal(t, int64(100), te.balance(t, 42))
	assert.Equal(t, int64(50), te.balance(t, 43))
	for _, e := range te.engines {
		assert.Equal(t, 0, e.UndoLogLen())
	}
}

func TestMultiPartitionCommit(t *testing.T) {
	te := newTestEnv(t, nil)
	defer te.exec.Stop()

	txn, res := te.invoke(t, "Transfer", 2, false, int64(42), int64(43), int64(30))
	assert.Nil(t, res.Err)
	assert.Equal(t, procedure.StatusSuccess, res.Response.Status)
	assert.Equal(t, txnif.TxnStateCommitted, txn.GetTxnState())
	assert.Equal(t, []int32{2, 3}, txn.GetTouched().Slice())
	assert.Equal(t, int64(70), te.balance(t, 42))
	assert.Equal(t, int64(80), te.balance(t, 43))
	for _, e := range te.engines {
		assert.Equal(t, 0, e.UndoLogLen())
	}

	_, res = te.invoke(t, "TotalBalance", 0, false)
	assert.Equal(t, procedure.StatusSuccess, res.Response.Status)
	assert.Equal(t, [][]interface{}{{int64(150)}}, res.Response.Results[0].Rows)

	_, res = te.invoke(t, "AddBranch", 1, false, int32(7), "north")
	assert.Equal(t, procedure.StatusSuccess, res.Response.Status)
	assert.Equal(t, int64(1), scalarOf(t, res.Response.Results[0]))
	for _, e := range te.engines {
		assert.Equal(t, 1, e.Count("BRANCH"))
	}

	// the single partition read of a replicated table runs locally
	_, res = te.invoke(t, "ListBranches", 3, true)
	assert.Equal(t, procedure.StatusSuccess, res.Response.Status)
	assert.Equal(t, [][]interface{}{{int32(7), "north"}}, res.Response.Results[0].Rows)

	txn, res = te.invoke(t, "Audit", 2, false, int64(42), int64(1), types.Timestamp(0))
	assert.Equal(t, procedure.StatusSuccess, res.Response.Status)
	assert.Equal(t, 2, len(res.Response.Results))
	assert.Equal(t, [][]interface{}{{int64(70)}}, res.Response.Results[0].Rows)
	assert.Equal(t, [][]interface{}{{int64(150)}}, res.Response.Results[1].Rows)
	assert.Equal(t, 1, te.engines[2].Count("HISTORY"))
	assert.Equal(t, testPartitions, txn.GetTouched().Len())
}

func TestMispredict(t *testing.T) {
	te := newTestEnv(t, nil)
	defer te.exec.Stop()

	txn, res := te.invoke(t, "Transfer", 2, true, int64(42), int64(43), int64(30))
	assert.Equal(t, procedure.StatusMispredicted, res.Response.Status)
	assert.Equal(t, txnif.TxnStateMispredicted, txn.GetTxnState())
	_, ok := planner.AsMisprediction(res.Err)
	assert.True(t, ok)
	assert.Equal(t, int64(100), te.balance(t, 42))
	assert.Equal(t, int64(50), te.balance(t, 43))
}

func TestMispredictAfterExecutedBatch(t *testing.T) {
	te := newTestEnv(t, nil)
	defer te.exec.Stop()

	txn, res := te.invoke(t, "Shift", 2, true, int64(42), int64(43), int64(30))
	assert.Equal(t, procedure.StatusMispredicted, res.Response.Status)
	assert.Equal(t, txnif.TxnStateMispredicted, txn.GetTxnState())
	_, ok := planner.AsMisprediction(txn.GetError())
	assert.True(t, ok)
	assert.Equal(t, 1, len(txn.Plans()))
	_, ok = txn.UndoRange(2)
	assert.True(t, ok)
	assert.Equal(t, int64(100), te.balance(t, 42))
	assert.Equal(t, int64(50), te.balance(t, 43))
	assert.Equal(t, 0, te.engines[2].UndoLogLen())

	txn, res = te.invoke(t, "Shift", 2, false, int64(42), int64(43), int64(30))
	assert.Equal(t, procedure.StatusSuccess, res.Response.Status)
	assert.Equal(t, txnif.TxnStateCommitted, txn.GetTxnState())
	assert.Nil(t, txn.GetError())
	_, ok = txn.UndoRange(3)
	assert.True(t, ok)
	assert.Equal(t, int64(70), te.balance(t, 42))
	assert.Equal(t, int64(80), te.balance(t, 43))
	assert.Equal(t, 0, te.engines[3].UndoLogLen())
}

func TestConstraintFailure(t *testing.T) {
	te := newTestEnv(t, nil)
	defer te.exec.Stop()

	txn, res := te.invoke(t, "OpenAccount", 2, true, int64(42), "mallory", int64(1), int32(1))
	assert.Equal(t, procedure.StatusGracefulFailure, res.Response.Status)
	assert.Equal(t, txnif.TxnStateAborted, txn.GetTxnState())
	var ce *engineif.ConstraintError
	assert.True(t, errors.As(res.Err, &ce))
	assert.Equal(t, 1, te.engines[2].Count("ACCOUNTS"))
}

func TestHaltOnUndoFailure(t *testing.T) {
	te := newTestEnv(t, func(e engineif.Engine) engineif.Engine {
		if e.Partition() == 2 {
			return &failingEngine{Engine: e.(*memengine.Engine)}
		}
		return e
	})
	defer te.exec.Stop()

	_, res := te.invoke(t, "Withdraw", 2, true, int64(42), int64(500))
	assert.Equal(t, procedure.StatusUnexpectedFailure, res.Response.Status)
	assert.True(t, IsFatal(res.Err))
	assert.Equal(t, []int32{2}, te.exec.Halted())

	pe, err := te.exec.Partition(2)
	assert.Nil(t, err)
	assert.True(t, IsFatal(pe.HaltError()))

	txn := txnbase.NewTxnState(99, 99, "GetBalance", 2, true)
	err = te.exec.Initiate(NewInitiateTask(context.Background(), txn, []interface{}{int64(42)}, te.env))
	assert.Equal(t, ErrPartitionHalted, errors.Cause(err))

	// other partitions keep working
	_, res = te.invoke(t, "GetBalance", 3, true, int64(43))
	assert.Equal(t, procedure.StatusSuccess, res.Response.Status)

	_, err = te.exec.Partition(testPartitions)
	assert.Equal(t, ErrNoPartition, errors.Cause(err))
}

func TestStartStop(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	engines := make([]engineif.Engine, testPartitions)
	for i := range engines {
		engines[i] = memengine.New(int32(i), cat)
	}
	exec, err := New(engines, Options{})
	assert.Nil(t, err)
	exec.Start()
	assert.Equal(t, int32(testPartitions), exec.Partitions())
	pe, err := exec.Partition(1)
	assert.Nil(t, err)
	assert.Equal(t, int32(1), pe.ID())
	assert.Equal(t, uint64(1), pe.undoAlloc.Alloc())
	assert.Equal(t, 0, len(exec.Halted()))
	exec.Stop()
}

func TestNewChecksPartitions(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	_, err := New([]engineif.Engine{memengine.New(1, cat)}, Options{})
	assert.NotNil(t, err)
}
