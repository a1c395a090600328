package planner

import (
	"sync"
	"testing"

	"ptxn/pkg/catalog"
	"ptxn/pkg/types"

	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
)

const testPartitions = 4

func mockStatements(t *testing.T, cat *catalog.Catalog, proc string, names ...string) []*catalog.Statement {
	p, err := cat.Procedure(proc)
	assert.Nil(t, err)
	stmts := make([]*catalog.Statement, len(names))
	for i, name := range names {
		stmts[i] = p.Statement(name)
		assert.NotNil(t, stmts[i], name)
	}
	return stmts
}

func TestHasher(t *testing.T) {
	h := NewDefaultHasher(testPartitions)
	assert.Equal(t, int32(2), h.Hash(int64(42)))
	assert.Equal(t, int32(3), h.Hash(int32(-7)))
	assert.Equal(t, int32(0), h.Hash(nil))
	assert.Equal(t, int32(0), h.Hash(types.NullBigInt))
	assert.Equal(t, h.Hash("alice"), h.Hash([]byte("alice")))
	for _, v := range []interface{}{"bob", 3.5, types.Timestamp(99), types.NewDecimalFromInt(5)} {
		p := h.Hash(v)
		assert.True(t, p >= 0 && p < testPartitions)
		assert.Equal(t, p, h.Hash(v))
	}
}

func TestDepositSinglePartition(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	est := NewPartitionEstimator(NewDefaultHasher(testPartitions))
	stmts := mockStatements(t, cat, "Deposit", "credit")
	planner, err := NewBatchPlanner(cat, stmts)
	assert.Nil(t, err)

	deposit, _ := cat.Procedure("Deposit")
	base, ok := est.BasePartition(deposit, []interface{}{int64(42), int64(100)})
	assert.True(t, ok)
	assert.Equal(t, int32(2), base)

	args := [][]interface{}{{int64(100), int64(42)}}
	plan, err := planner.Plan(1, base, true, args, est)
	assert.Nil(t, err)
	t.Log(plan.String())
	assert.False(t, plan.Mispredicted)
	assert.True(t, plan.SinglePartition)
	assert.Equal(t, []int32{2}, plan.Partitions.Slice())
	assert.Equal(t, 1, len(plan.LocalTasks()))
	assert.Equal(t, 0, len(plan.RemotePartitions()))
	assert.Equal(t, 0, len(plan.Graph.Edges))
	assert.True(t, plan.Tasks[0].Final)
	assert.False(t, plan.ReadOnly)
}

func TestDepositMispredicted(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	est := NewPartitionEstimator(NewDefaultHasher(testPartitions))
	planner, _ := NewBatchPlanner(cat, mockStatements(t, cat, "Deposit", "credit"))

	plan, err := planner.Plan(2, 1, true, [][]interface{}{{int64(100), int64(42)}}, est)
	assert.Nil(t, err)
	assert.True(t, plan.Mispredicted)
	assert.False(t, plan.SinglePartition)
	assert.Equal(t, 0, len(plan.Tasks))
	me := plan.MispredictionError()
	assert.Equal(t, int32(1), me.Base)
	assert.Equal(t, []int32{2}, me.Touched.Slice())
	got, ok := AsMisprediction(me)
	assert.True(t, ok)
	assert.Equal(t, me, got)

	// the same batch dispatched as multi-partition runs remotely
	plan, err = planner.Plan(3, 1, false, [][]interface{}{{int64(100), int64(42)}}, est)
	assert.Nil(t, err)
	assert.False(t, plan.Mispredicted)
	assert.Equal(t, []int32{2}, plan.RemotePartitions())
	assert.Equal(t, 0, len(plan.LocalTasks()))
}

func TestDistributedAggregate(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	est := NewPartitionEstimator(NewDefaultHasher(testPartitions))
	planner, err := NewBatchPlanner(cat, mockStatements(t, cat, "Audit", "balance", "total", "record"))
	assert.Nil(t, err)
	args := [][]interface{}{
		{int64(42)},
		{},
		{int64(42), int64(1), int64(10), types.Timestamp(0)},
	}
	plan, err := planner.Plan(4, 2, true, args, est)
	assert.Nil(t, err)
	assert.True(t, plan.Mispredicted)

	plan, err = planner.Plan(4, 2, false, args, est)
	assert.Nil(t, err)
	t.Log(plan.String())
	assert.False(t, plan.SinglePartition)
	assert.Equal(t, testPartitions, plan.Partitions.Len())
	assert.Equal(t, 7, len(plan.Tasks))

	var maps []*PlanVertex
	var reducers []*PlanVertex
	for _, v := range plan.Graph.Vertices {
		switch v.Task.Fragment.Kind {
		case catalog.FragmentMap:
			maps = append(maps, v)
		case catalog.FragmentReduce:
			reducers = append(reducers, v)
		}
	}
	assert.Equal(t, testPartitions, len(maps))
	assert.Equal(t, 1, len(reducers))
	consumer := reducers[0]
	assert.Equal(t, 1, len(consumer.In))
	assert.Equal(t, int32(2), consumer.Task.Partition)
	for _, m := range maps {
		assert.True(t, m.IsRoot())
		assert.Equal(t, 1, len(m.Out))
		assert.Equal(t, consumer, m.Out[0].Consumer)
		assert.False(t, m.Task.Final)
	}
	assert.Equal(t, testPartitions, len(consumer.In[0].Producers))
	assert.Equal(t, 6, len(plan.Graph.Roots()))
	assert.Equal(t, 1, len(plan.Graph.Edges))

	order, err := plan.Graph.TopoOrder()
	assert.Nil(t, err)
	pos := make(map[*PlanVertex]int)
	for i, v := range order {
		pos[v] = i
	}
	for _, m := range maps {
		assert.True(t, pos[m] < pos[consumer])
	}
	assert.Equal(t, consumer.Task.OutputDep, plan.StmtDeps[1])
	assert.Equal(t, 3, len(plan.RemotePartitions()))
}

func TestPlanShapeStable(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	est := NewPartitionEstimator(NewDefaultHasher(testPartitions))
	cache := NewCache()
	stmts := mockStatements(t, cat, "Audit", "balance", "total", "record")

	p1, err := cache.GetOrCreate(cat, stmts)
	assert.Nil(t, err)
	p2, err := cache.GetOrCreate(cat, mockStatements(t, cat, "Audit", "balance", "total", "record"))
	assert.Nil(t, err)
	assert.True(t, p1 == p2)
	assert.Equal(t, 1, cache.Len())

	plan1, err := p1.Plan(1, 0, false, [][]interface{}{{int64(42)}, {}, {int64(42), int64(1), int64(5), types.Timestamp(0)}}, est)
	assert.Nil(t, err)
	plan2, err := p2.Plan(2, 0, false, [][]interface{}{{int64(43)}, {}, {int64(43), int64(1), int64(5), types.Timestamp(0)}}, est)
	assert.Nil(t, err)
	assert.Equal(t, plan1.Graph.Shape(), plan2.Graph.Shape())
	assert.Equal(t, int32(2), plan1.Tasks[0].Partition)
	assert.Equal(t, int32(3), plan2.Tasks[0].Partition)
}

func TestCacheReset(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	cache := NewCache()
	stmts := mockStatements(t, cat, "Deposit", "credit")
	p1, _ := cache.GetOrCreate(cat, stmts)
	cache.Reset()
	assert.Equal(t, 0, cache.Len())
	p2, _ := cache.GetOrCreate(cat, stmts)
	assert.False(t, p1 == p2)

	// statements of another catalog version are a planning error
	cat2 := catalog.MockBankCatalog(2)
	_, err := cache.GetOrCreate(cat2, stmts)
	assert.True(t, IsPlanningError(err))
	_, err = NewBatchPlanner(cat, nil)
	assert.True(t, IsPlanningError(err))
}

func TestCacheConcurrent(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	cache := NewCache()
	stmts := mockStatements(t, cat, "Withdraw", "balance", "debit")
	pool, _ := ants.NewPool(8)
	defer pool.Release()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[*BatchPlanner]bool)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		_ = pool.Submit(func() {
			defer wg.Done()
			p, err := cache.GetOrCreate(cat, stmts)
			assert.Nil(t, err)
			mu.Lock()
			seen[p] = true
			mu.Unlock()
		})
	}
	wg.Wait()
	assert.Equal(t, 1, len(seen))
	assert.Equal(t, 1, cache.Len())
}

func TestGraphValidate(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	deposit, _ := cat.Procedure("Deposit")
	frag := deposit.Statements[0].Fragments[0]
	cyclic := []*FragmentTask{
		{ID: 0, Fragment: frag, InputDeps: []int32{2}, OutputDep: 1},
		{ID: 1, Fragment: frag, InputDeps: []int32{1}, OutputDep: 2},
	}
	assert.Equal(t, ErrCyclicPlan, buildGraph(cyclic).Validate())

	twoInputs := []*FragmentTask{
		{ID: 0, Fragment: frag, OutputDep: 1},
		{ID: 1, Fragment: frag, OutputDep: 2},
		{ID: 2, Fragment: frag, InputDeps: []int32{1, 2}, OutputDep: 3},
	}
	assert.Equal(t, ErrBadEdge, buildGraph(twoInputs).Validate())

	dangling := []*FragmentTask{
		{ID: 0, Fragment: frag, InputDeps: []int32{9}, OutputDep: 1},
	}
	assert.NotNil(t, buildGraph(dangling).Validate())
}

func TestPlanArgsMismatch(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	est := NewPartitionEstimator(NewDefaultHasher(testPartitions))
	planner, _ := NewBatchPlanner(cat, mockStatements(t, cat, "Deposit", "credit"))
	_, err := planner.Plan(1, 0, true, nil, est)
	assert.True(t, IsPlanningError(err))
	_, err = planner.Plan(1, 0, true, [][]interface{}{{int64(1)}}, est)
	assert.True(t, IsPlanningError(err))
}
