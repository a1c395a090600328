package site

import (
	"context"
	"sync"
	"testing"
	"time"

	"ptxn/pkg/catalog"
	"ptxn/pkg/config"
	"ptxn/pkg/engine/memengine"
	"ptxn/pkg/iface/engineif"
	"ptxn/pkg/planner"
	"ptxn/pkg/procedure"
	"ptxn/pkg/types"

	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

const testPartitions = 4

func runTransfer(ctx *procedure.Context, args []interface{}) (interface{}, error) {
	from, to, amount := args[0], args[1], args[2]
	if err := ctx.QueueSQL("debit", amount, from); err != nil {
		return nil, err
	}
	if err := ctx.QueueSQL("credit", amount, to); err != nil {
		return nil, err
	}
	return ctx.ExecuteSQL(true)
}

func mockRegistry() *procedure.Registry {
	bigint := types.Param(types.T_bigint)
	return procedure.MockBankRegistry().MustRegister(&procedure.Descriptor{
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
	})
}

func newTestSite(t *testing.T) (*Site, []*memengine.Engine) {
	conf := config.NewDefaultConfig()
	conf.Partitions = testPartitions
	conf.LogLevel = "warning"
	conf.WorkerPoolSize = 16
	conf.FragmentTimeout = config.NewDuration(2 * time.Second)
	conf.ResponseTimeout = config.NewDuration(5 * time.Second)

	reg := mockRegistry()
	cat, err := reg.BuildCatalog(1, catalog.MockBankTables()...)
	assert.Nil(t, err)
	hasher := planner.NewDefaultHasher(testPartitions)
	mems := make([]*memengine.Engine, testPartitions)
	engines := make([]engineif.Engine, testPartitions)
	for i := range engines {
		mems[i] = memengine.New(int32(i), cat)
		engines[i] = mems[i]
	}
	for _, row := range [][]interface{}{
		{int64(42), "alice", int64(100), int64(1)},
		{int64(43), "bob", int64(50), int64(1)},
	} {
		assert.Nil(t, mems[hasher.Hash(row[0])].Load("ACCOUNTS", row))
	}
	s, err := New(conf, reg, cat, engines)
	assert.Nil(t, err)
	s.Start()
	return s, mems
}

func call(t *testing.T, s *Site, proc string, params ...interface{}) (*procedure.ClientResponse, error) {
	f := s.Invoke(context.Background(), &Invocation{ClientHandle: 7, ProcName: proc, Params: params})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	resp, err := f.Wait(ctx)
	assert.NotNil(t, resp)
	return resp, err
}

func total(t *testing.T, s *Site) int64 {
	resp, err := call(t, s, "TotalBalance")
	assert.Nil(t, err)
	assert.Equal(t, procedure.StatusSuccess, resp.Status)
	v, err := resp.Results[0].AsScalarLong()
	assert.Nil(t, err)
	return v
}

func TestInvoke(t *testing.T) {
	s, mems := newTestSite(t)
	defer s.Stop()

	resp, err := call(t, s, "Deposit", int64(42), int64(10))
	assert.Nil(t, err)
	assert.Equal(t, procedure.StatusSuccess, resp.Status)
	assert.Equal(t, uint64(7), resp.ClientHandle)
	assert.NotZero(t, resp.TxnID)

	resp, err = call(t, s, "GetBalance", int64(42))
	assert.Nil(t, err)
	assert.Equal(t, [][]interface{}{{int64(110)}}, resp.Results[0].Rows)

	resp, err = call(t, s, "Withdraw", int64(43), int64(80))
	assert.NotNil(t, err)
	assert.Equal(t, procedure.StatusUserAbort, resp.Status)
	assert.Equal(t, procedure.AppStatusInsufficientFunds, resp.AppStatus)

	resp, err = call(t, s, "Deposit", int64(42))
	assert.Equal(t, procedure.StatusGracefulFailure, resp.Status)
	assert.True(t, procedure.IsParamError(err))

	resp, err = call(t, s, "NoSuchProc")
	assert.Equal(t, procedure.StatusGracefulFailure, resp.Status)
	assert.Equal(t, procedure.ErrUnknownProcedure, errors.Cause(err))

	assert.Equal(t, int64(160), total(t, s))
	assert.Equal(t, 1, mems[2].Count("ACCOUNTS"))
	assert.Eventually(t, func() bool { return s.ActiveTxns() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestMispredictRestart(t *testing.T) {
	s, _ := newTestSite(t)
	defer s.Stop()

	resp, err := call(t, s, "Transfer", int64(42), int64(43), int64(30))
	assert.Nil(t, err)
	assert.Equal(t, procedure.StatusSuccess, resp.Status)
	assert.Equal(t, 2, len(resp.Results))

	resp, _ = call(t, s, "GetBalance", int64(43))
	assert.Equal(t, [][]interface{}{{int64(80)}}, resp.Results[0].Rows)
	assert.Equal(t, int64(150), total(t, s))
}

func TestConcurrentInvocations(t *testing.T) {
	s, _ := newTestSite(t)
	defer s.Stop()

	pool, _ := ants.NewPool(8)
	defer pool.Release()
	var wg sync.WaitGroup
	var mu sync.Mutex
	statuses := make(map[procedure.Status]int)
	for i := 0; i < 60; i++ {
		var proc string
		var params []interface{}
		switch i % 3 {
		case 0:
			proc, params = "Deposit", []interface{}{int64(42), int64(1)}
		case 1:
			proc, params = "Deposit", []interface{}{int64(43), int64(1)}
		default:
			proc, params = "Transfer", []interface{}{int64(42), int64(43), int64(2)}
		}
		wg.Add(1)
		_ = pool.Submit(func() {
			defer wg.Done()
			resp, _ := call(t, s, proc, params...)
			mu.Lock()
			statuses[resp.Status]++
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, 60, statuses[procedure.StatusSuccess])
	assert.Equal(t, int64(150+40), total(t, s))
	assert.Empty(t, s.Executor().Halted())
}

func TestDisableAndUpdateCatalog(t *testing.T) {
	s, mems := newTestSite(t)
	defer s.Stop()

	s.disable("DEPOSIT", &planner.PlanningError{Procedure: "DEPOSIT", Err: planner.ErrEmptyBatch})
	assert.True(t, s.IsDisabled("Deposit"))
	resp, err := call(t, s, "Deposit", int64(42), int64(10))
	assert.Equal(t, procedure.StatusGracefulFailure, resp.Status)
	assert.Equal(t, ErrProcedureDisabled, errors.Cause(err))

	cs := s.ConflictSet()
	assert.Equal(t, uint64(1), cs.Version())

	cat, err := mockRegistry().BuildCatalog(2, catalog.MockBankTables()...)
	assert.Nil(t, err)
	assert.Nil(t, s.UpdateCatalog(cat))
	assert.False(t, s.IsDisabled("Deposit"))
	assert.Equal(t, uint64(2), s.ConflictSet().Version())
	assert.Equal(t, uint64(2), s.Catalog().Version())

	resp, err = call(t, s, "Deposit", int64(42), int64(10))
	assert.Nil(t, err)
	assert.Equal(t, procedure.StatusSuccess, resp.Status)
	rows, _ := mems[2].Rows("ACCOUNTS")
	assert.Equal(t, int64(110), rows[0][2])

	// a catalog missing registered procedures is refused
	partial, err := catalog.NewBuilder(3).AddTable(catalog.MockBankTables()[0]).Build()
	assert.Nil(t, err)
	assert.NotNil(t, s.UpdateCatalog(partial))
	assert.Equal(t, uint64(2), s.Catalog().Version())
}

func TestCanceledInvocation(t *testing.T) {
	s, _ := newTestSite(t)
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := s.Invoke(ctx, &Invocation{ProcName: "Deposit", Params: []interface{}{int64(42), int64(10)}})
	resp, err := f.Wait(context.Background())
	assert.NotNil(t, err)
	assert.Equal(t, procedure.StatusConnectionLost, resp.Status)

	pending := newFuture(nil)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	_, err = pending.Wait(waitCtx)
	assert.Equal(t, context.DeadlineExceeded, errors.Cause(err))
	pending.Cancel()
}

func TestStoppedSite(t *testing.T) {
	s, _ := newTestSite(t)
	s.Stop()
	s.Stop()
	resp, err := call(t, s, "Deposit", int64(42), int64(10))
	assert.Equal(t, ErrSiteClosed, err)
	assert.Equal(t, procedure.StatusConnectionLost, resp.Status)
}

func TestNewChecksConfig(t *testing.T) {
	conf := config.NewDefaultConfig()
	conf.Partitions = 2
	reg := mockRegistry()
	cat, _ := reg.BuildCatalog(1, catalog.MockBankTables()...)
	_, err := New(conf, reg, cat, []engineif.Engine{memengine.New(0, cat)})
	assert.Equal(t, ErrPartitionsMismatch, errors.Cause(err))
}
