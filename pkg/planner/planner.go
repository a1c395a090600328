package planner

import (
	"fmt"
	"strings"

	"ptxn/pkg/catalog"
	"ptxn/pkg/common"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FragmentTask is one fragment to run on one partition.
type FragmentTask struct {
	ID        int
	Partition int32
	Fragment  *catalog.Fragment
	StmtIndex int
	Params    []interface{}
	InputDeps []int32
	OutputDep int32
	// Final marks the task whose output is the statement result.
	Final bool
}

func (task *FragmentTask) String() string {
	return fmt.Sprintf("TASK<%d,p%d,%s,in=%v,out=%d>", task.ID, task.Partition, task.Fragment.String(), task.InputDeps, task.OutputDep)
}

// BatchPlan is the routing and dependency artifact of one flushed batch.
type BatchPlan struct {
	TxnID           uint64
	BasePartition   int32
	Partitions      *common.PartitionSet
	SinglePartition bool
	Mispredicted    bool
	ReadOnly        bool

	Tasks    []*FragmentTask
	ByPart   map[int32][]*FragmentTask
	Graph    *PlanGraph
	StmtDeps []int32
}

// MispredictionError is only meaningful when Mispredicted is set.
func (plan *BatchPlan) MispredictionError() *MispredictionError {
	return &MispredictionError{
		TxnID:   plan.TxnID,
		Base:    plan.BasePartition,
		Touched: plan.Partitions.Clone(),
	}
}

func (plan *BatchPlan) LocalTasks() []*FragmentTask {
	return plan.ByPart[plan.BasePartition]
}

// RemotePartitions returns the touched partitions other than the base one.
func (plan *BatchPlan) RemotePartitions() []int32 {
	var parts []int32
	for _, p := range plan.Partitions.Slice() {
		if p != plan.BasePartition && len(plan.ByPart[p]) > 0 {
			parts = append(parts, p)
		}
	}
	return parts
}

func (plan *BatchPlan) addTask(part int32, frag *catalog.Fragment, stmtIdx int, params []interface{}, in []int32, out int32, final bool) {
	task := &FragmentTask{
		ID:        len(plan.Tasks),
		Partition: part,
		Fragment:  frag,
		StmtIndex: stmtIdx,
		Params:    params,
		InputDeps: in,
		OutputDep: out,
		Final:     final,
	}
	plan.Tasks = append(plan.Tasks, task)
	plan.ByPart[part] = append(plan.ByPart[part], task)
}

func (plan *BatchPlan) String() string {
	var w strings.Builder
	fmt.Fprintf(&w, "PLAN<txn=%d,base=%d,parts=%s,sp=%v,mispredicted=%v>",
		plan.TxnID, plan.BasePartition, plan.Partitions.String(), plan.SinglePartition, plan.Mispredicted)
	for _, task := range plan.Tasks {
		fmt.Fprintf(&w, "\n  %s", task.String())
	}
	return w.String()
}

// BatchPlanner plans one ordered sequence of statements. It only depends on
// statement identity, so it is shared by every batch with the same sequence.
type BatchPlanner struct {
	version  uint64
	procName string
	stmts    []*catalog.Statement
	readOnly bool
}

// NewBatchPlanner checks every statement and fragment against the catalog.
func NewBatchPlanner(cat *catalog.Catalog, stmts []*catalog.Statement) (*BatchPlanner, error) {
	if len(stmts) == 0 {
		return nil, newPlanningError("", ErrEmptyBatch)
	}
	p := &BatchPlanner{
		version:  cat.Version(),
		procName: stmts[0].ProcName,
		stmts:    append([]*catalog.Statement(nil), stmts...),
		readOnly: true,
	}
	for _, stmt := range stmts {
		if known, err := cat.Statement(stmt.ID); err != nil || known != stmt {
			return nil, newPlanningError(stmt.ProcName, errors.Wrapf(catalog.ErrNotFound, "statement %s in catalog v%d", stmt.FullName(), cat.Version()))
		}
		if len(stmt.Fragments) == 0 {
			return nil, newPlanningError(stmt.ProcName, errors.Errorf("statement %s has no fragments", stmt.FullName()))
		}
		frags := append(append([]*catalog.Fragment(nil), stmt.Fragments...), stmt.MSFragments...)
		for _, frag := range frags {
			if known, err := cat.Fragment(frag.ID); err != nil || known != frag {
				return nil, newPlanningError(stmt.ProcName, errors.Wrapf(catalog.ErrNotFound, "fragment %d of %s", frag.ID, stmt.FullName()))
			}
		}
		if stmt.Route == catalog.RouteAll && len(stmt.MSFragments) != 2 {
			return nil, newPlanningError(stmt.ProcName, errors.Errorf("statement %s spans partitions without a map/reduce plan", stmt.FullName()))
		}
		if !stmt.ReadOnly() {
			p.readOnly = false
		}
	}
	return p, nil
}

func (p *BatchPlanner) Statements() []*catalog.Statement { return p.stmts }

func (p *BatchPlanner) matches(version uint64, stmts []*catalog.Statement) bool {
	if p.version != version || len(p.stmts) != len(stmts) {
		return false
	}
	for i := range stmts {
		if p.stmts[i] != stmts[i] {
			return false
		}
	}
	return true
}

// Plan routes one batch. When predictSingle is set and the batch touches
// more than the base partition the returned plan is flagged mispredicted and
// carries no tasks.
func (p *BatchPlanner) Plan(txnID uint64, base int32, predictSingle bool, args [][]interface{}, est *PartitionEstimator) (*BatchPlan, error) {
	if len(args) != len(p.stmts) {
		return nil, newPlanningError(p.procName, ErrArgsMismatch)
	}
	plan := &BatchPlan{
		TxnID:         txnID,
		BasePartition: base,
		Partitions:    common.NewPartitionSet(),
		ReadOnly:      p.readOnly,
		ByPart:        make(map[int32][]*FragmentTask),
		StmtDeps:      make([]int32, len(p.stmts)),
	}
	targets := make([]*common.PartitionSet, len(p.stmts))
	for i, stmt := range p.stmts {
		parts, err := est.StatementPartitions(stmt, args[i], base)
		if err != nil {
			return nil, newPlanningError(p.procName, err)
		}
		targets[i] = parts
		plan.Partitions.Union(parts)
		if parts.Len() > 1 {
			// reduce runs on the coordinator
			plan.Partitions.Add(base)
		}
	}
	plan.SinglePartition = plan.Partitions.IsOnly(base)
	if predictSingle && !plan.SinglePartition {
		plan.Mispredicted = true
		plansCounter.WithLabelValues("mispredicted").Inc()
		logrus.Debugf("txn %d mispredicted: base %d touched %s", txnID, base, plan.Partitions.String())
		return plan, nil
	}

	var dep int32
	nextDep := func() int32 {
		dep++
		return dep
	}
	for i, stmt := range p.stmts {
		parts := targets[i]
		if parts.Len() == 1 {
			out := nextDep()
			plan.addTask(parts.Slice()[0], stmt.Fragments[0], i, args[i], nil, out, true)
			plan.StmtDeps[i] = out
			continue
		}
		if len(stmt.MSFragments) != 2 {
			return nil, newPlanningError(p.procName, errors.Errorf("statement %s targets %s without a map/reduce plan", stmt.FullName(), parts.String()))
		}
		mapDep := nextDep()
		parts.ForEach(func(part int32) bool {
			plan.addTask(part, stmt.MSFragments[0], i, args[i], nil, mapDep, false)
			return true
		})
		out := nextDep()
		plan.addTask(base, stmt.MSFragments[1], i, args[i], []int32{mapDep}, out, true)
		plan.StmtDeps[i] = out
	}
	plan.Graph = buildGraph(plan.Tasks)
	if err := plan.Graph.Validate(); err != nil {
		return nil, newPlanningError(p.procName, err)
	}
	if plan.SinglePartition {
		plansCounter.WithLabelValues("single").Inc()
	} else {
		plansCounter.WithLabelValues("multi").Inc()
	}
	return plan, nil
}
