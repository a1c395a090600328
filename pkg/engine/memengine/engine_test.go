package memengine

import (
	"context"
	"math"
	"testing"

	"ptxn/pkg/catalog"
	"ptxn/pkg/iface/engineif"
	"ptxn/pkg/planner"
	"ptxn/pkg/types"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func mockStatement(t *testing.T, cat *catalog.Catalog, proc, name string) *catalog.Statement {
	p, err := cat.Procedure(proc)
	assert.Nil(t, err)
	stmt := p.Statement(name)
	assert.NotNil(t, stmt)
	return stmt
}

func runFragment(e *Engine, token uint64, frag *catalog.Fragment, params ...interface{}) (*types.Table, error) {
	req := &engineif.FragmentRequest{
		Partition: e.Partition(),
		UndoToken: token,
		Tasks:     []*planner.FragmentTask{{Fragment: frag, Params: params, OutputDep: 1}},
	}
	res, err := e.ExecuteFragments(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return res[1], nil
}

func reduceInputs(e *Engine, frag *catalog.Fragment, inputs []*types.Table, params ...interface{}) (*types.Table, error) {
	req := &engineif.FragmentRequest{
		Partition: e.Partition(),
		Tasks:     []*planner.FragmentTask{{Fragment: frag, Params: params, InputDeps: []int32{1}, OutputDep: 2}},
		Inputs:    map[int32][]*types.Table{1: inputs},
	}
	res, err := e.ExecuteFragments(context.Background(), req)
	if err != nil {
		return nil, err
	}
	return res[2], nil
}

func scalar(t *testing.T, table *types.Table) int64 {
	assert.NotNil(t, table)
	v, err := table.AsScalarLong()
	assert.Nil(t, err)
	return v
}

func TestEngineDML(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	e := New(0, cat)
	assert.Nil(t, e.Load("accounts",
		[]interface{}{int64(1), "alice", int64(100), int64(1)},
		[]interface{}{int64(2), "bob", int64(50), int64(1)},
	))
	assert.Equal(t, 2, e.Count("ACCOUNTS"))
	assert.Equal(t, 2, e.Count(" Accounts "))
	rows, err := e.Rows("accounts")
	assert.Nil(t, err)
	assert.Equal(t, 2, len(rows))

	insert := mockStatement(t, cat, "OpenAccount", "insert").Fragments[0]
	out, err := runFragment(e, 1, insert, int64(3), "carol", int64(10), int32(2))
	assert.Nil(t, err)
	assert.Equal(t, int64(1), scalar(t, out))
	assert.Equal(t, 3, e.Count("ACCOUNTS"))

	_, err = runFragment(e, 2, insert, int64(3), "dave", int64(0), int32(2))
	var ce *engineif.ConstraintError
	assert.True(t, errors.As(err, &ce))
	assert.Equal(t, "ACCOUNTS", ce.Table)
	assert.Equal(t, "3", ce.Key)

	credit := mockStatement(t, cat, "Deposit", "credit").Fragments[0]
	out, err = runFragment(e, 3, credit, int64(25), int64(1))
	assert.Nil(t, err)
	assert.Equal(t, int64(1), scalar(t, out))
	out, err = runFragment(e, 3, credit, int64(25), int64(99))
	assert.Nil(t, err)
	assert.Equal(t, int64(0), scalar(t, out))

	balance := mockStatement(t, cat, "GetBalance", "balance").Fragments[0]
	out, err = runFragment(e, 0, balance, int64(1))
	assert.Nil(t, err)
	assert.Equal(t, [][]interface{}{{int64(125)}}, out.Rows)

	del := mockStatement(t, cat, "CloseAccount", "delete").Fragments[0]
	out, err = runFragment(e, 4, del, int64(2))
	assert.Nil(t, err)
	assert.Equal(t, int64(1), scalar(t, out))
	assert.Equal(t, 2, e.Count("ACCOUNTS"))

	// roll back the deposit and the delete
	assert.Nil(t, e.Undo(3))
	assert.Equal(t, 3, e.Count("ACCOUNTS"))
	out, _ = runFragment(e, 0, balance, int64(1))
	assert.Equal(t, [][]interface{}{{int64(100)}}, out.Rows)
	assert.Equal(t, 1, e.UndoLogLen())

	assert.Nil(t, e.Release(1))
	assert.Equal(t, 0, e.UndoLogLen())
	assert.Nil(t, e.Undo(1))
	rows, err = e.Rows("ACCOUNTS")
	assert.Nil(t, err)
	assert.Equal(t, 3, len(rows))
	for i, row := range rows {
		assert.Equal(t, int64(i+1), row[0])
	}
}

func TestEngineErrors(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	e := New(1, cat)
	assert.Nil(t, e.Load("ACCOUNTS", []interface{}{int64(1), "alice", int64(100), int64(1)}))

	insert := mockStatement(t, cat, "OpenAccount", "insert").Fragments[0]
	_, err := runFragment(e, 1, insert, types.NullBigInt, "x", int64(1), int32(1))
	var ce *engineif.ConstraintError
	assert.True(t, errors.As(err, &ce))

	credit := mockStatement(t, cat, "Deposit", "credit").Fragments[0]
	_, err = runFragment(e, 2, credit, int64(math.MaxInt64), int64(1))
	var se *engineif.SQLError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "DEPOSIT.CREDIT", se.Statement)

	req := &engineif.FragmentRequest{
		Partition: 1,
		UndoToken: 3,
		ReadOnly:  true,
		Tasks:     []*planner.FragmentTask{{Fragment: credit, Params: []interface{}{int64(1), int64(1)}, OutputDep: 1}},
	}
	_, err = e.ExecuteFragments(context.Background(), req)
	assert.True(t, errors.As(err, &se))

	// a renamed owner may be NULL
	rename := mockStatement(t, cat, "RenameOwner", "rename").Fragments[0]
	_, err = runFragment(e, 4, rename, types.NullString, int64(1))
	assert.Nil(t, err)
	rows, _ := e.Rows("ACCOUNTS")
	assert.True(t, types.IsNull(rows[0][1]))
	assert.Equal(t, int64(100), rows[0][2])

	assert.NotNil(t, e.Load("MISSING", []interface{}{int64(1)}))
	assert.NotNil(t, e.Load("BRANCH", []interface{}{int64(1)}))
	assert.Equal(t, 0, e.Count("MISSING"))
}

func TestEngineMapReduce(t *testing.T) {
	cat := catalog.MockBankCatalog(1)
	engines := []*Engine{New(0, cat), New(1, cat), New(2, cat)}
	assert.Nil(t, engines[0].Load("ACCOUNTS",
		[]interface{}{int64(1), "alice", int64(100), int64(1)},
		[]interface{}{int64(2), "bob", int64(50), int64(1)},
	))
	assert.Nil(t, engines[1].Load("ACCOUNTS", []interface{}{int64(3), "carol", int64(10), int64(2)}))

	total := mockStatement(t, cat, "TotalBalance", "total")
	assert.Equal(t, 2, len(total.MSFragments))
	var partials []*types.Table
	for _, e := range engines {
		out, err := runFragment(e, 0, total.MSFragments[0])
		assert.Nil(t, err)
		assert.Equal(t, 1, out.RowCount())
		partials = append(partials, out)
	}
	assert.True(t, types.IsNull(partials[2].Rows[0][0]))
	out, err := reduceInputs(engines[0], total.MSFragments[1], partials)
	assert.Nil(t, err)
	assert.Equal(t, [][]interface{}{{int64(160)}}, out.Rows)

	out, err = reduceInputs(engines[0], total.MSFragments[1], partials[2:])
	assert.Nil(t, err)
	assert.Equal(t, [][]interface{}{{types.NullBigInt}}, out.Rows)

	// replicated writes run everywhere and count once
	branch := mockStatement(t, cat, "AddBranch", "insert")
	var counts []*types.Table
	for i, e := range engines {
		out, err := runFragment(e, uint64(i+1), branch.MSFragments[0], int32(7), "north")
		assert.Nil(t, err)
		counts = append(counts, out)
	}
	out, err = reduceInputs(engines[0], branch.MSFragments[1], counts)
	assert.Nil(t, err)
	assert.Equal(t, int64(1), scalar(t, out))
	for _, e := range engines {
		assert.Equal(t, 1, e.Count("BRANCH"))
	}
}

func TestEngineOrderLimit(t *testing.T) {
	b := catalog.NewBuilder(1)
	for _, def := range catalog.MockBankTables() {
		b.AddTable(def)
	}
	b.AddProcedure(catalog.ProcedureDef{
		Name:           "Richest",
		Params:         []types.ParamType{types.Param(types.T_bigint)},
		PartitionParam: catalog.NoPartitionParam,
		MultiPartition: true,
		Statements: []catalog.StatementDef{
			{Name: "top", SQL: "SELECT ID, BALANCE FROM ACCOUNTS WHERE BALANCE > 0 ORDER BY BALANCE DESC LIMIT ?"},
			{Name: "count", SQL: "SELECT COUNT(*), MIN(OWNER), MAX(BALANCE) FROM ACCOUNTS"},
		},
	})
	cat, err := b.Build()
	assert.Nil(t, err)

	e0, e1 := New(0, cat), New(1, cat)
	assert.Nil(t, e0.Load("ACCOUNTS",
		[]interface{}{int64(1), "alice", int64(100), int64(1)},
		[]interface{}{int64(2), "bob", int64(50), int64(1)},
		[]interface{}{int64(5), "eve", int64(0), int64(1)},
	))
	assert.Nil(t, e1.Load("ACCOUNTS",
		[]interface{}{int64(3), "carol", int64(10), int64(2)},
		[]interface{}{int64(4), "dan", int64(500), int64(2)},
	))

	top := mockStatement(t, cat, "Richest", "top")
	out, err := runFragment(e0, 0, top.Fragments[0], int64(1))
	assert.Nil(t, err)
	assert.Equal(t, [][]interface{}{{int64(1), int64(100)}}, out.Rows)

	var partials []*types.Table
	for _, e := range []*Engine{e0, e1} {
		out, err := runFragment(e, 0, top.MSFragments[0], int64(2))
		assert.Nil(t, err)
		assert.Equal(t, 3, out.ColumnCount())
		assert.Equal(t, 2, out.RowCount())
		partials = append(partials, out)
	}
	out, err = reduceInputs(e0, top.MSFragments[1], partials, int64(2))
	assert.Nil(t, err)
	assert.Equal(t, 2, out.ColumnCount())
	assert.Equal(t, [][]interface{}{{int64(4), int64(500)}, {int64(1), int64(100)}}, out.Rows)

	count := mockStatement(t, cat, "Richest", "count")
	partials = partials[:0]
	for _, e := range []*Engine{e0, e1} {
		out, err := runFragment(e, 0, count.MSFragments[0])
		assert.Nil(t, err)
		partials = append(partials, out)
	}
	out, err = reduceInputs(e0, count.MSFragments[1], partials)
	assert.Nil(t, err)
	assert.Equal(t, [][]interface{}{{int64(5), "alice", int64(500)}}, out.Rows)
}
