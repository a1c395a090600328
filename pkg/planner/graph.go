package planner

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

type PlanVertex struct {
	Task *FragmentTask
	In   []*PlanEdge
	Out  []*PlanEdge
}

func (v *PlanVertex) IsRoot() bool { return len(v.In) == 0 }

// PlanEdge carries one dependency id from all the tasks producing it to the
// one task consuming it.
type PlanEdge struct {
	DependencyID int32
	Producers    []*PlanVertex
	Consumer     *PlanVertex
}

// PlanGraph is the producer to consumer graph of the tasks in one batch.
type PlanGraph struct {
	Vertices []*PlanVertex
	Edges    []*PlanEdge
}

func buildGraph(tasks []*FragmentTask) *PlanGraph {
	g := &PlanGraph{Vertices: make([]*PlanVertex, len(tasks))}
	producers := make(map[int32][]*PlanVertex)
	for i, task := range tasks {
		v := &PlanVertex{Task: task}
		g.Vertices[i] = v
		producers[task.OutputDep] = append(producers[task.OutputDep], v)
	}
	for _, v := range g.Vertices {
		for _, dep := range v.Task.InputDeps {
			e := &PlanEdge{
				DependencyID: dep,
				Producers:    producers[dep],
				Consumer:     v,
			}
			g.Edges = append(g.Edges, e)
			v.In = append(v.In, e)
			for _, p := range e.Producers {
				p.Out = append(p.Out, e)
			}
		}
	}
	return g
}

func (g *PlanGraph) Roots() []*PlanVertex {
	var roots []*PlanVertex
	for _, v := range g.Vertices {
		if v.IsRoot() {
			roots = append(roots, v)
		}
	}
	return roots
}

// TopoOrder returns the vertices with every producer before its consumer.
func (g *PlanGraph) TopoOrder() ([]*PlanVertex, error) {
	pending := make(map[*PlanVertex]int, len(g.Vertices))
	var ready []*PlanVertex
	for _, v := range g.Vertices {
		n := 0
		for _, e := range v.In {
			n += len(e.Producers)
		}
		pending[v] = n
		if n == 0 {
			ready = append(ready, v)
		}
	}
	order := make([]*PlanVertex, 0, len(g.Vertices))
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		order = append(order, v)
		for _, e := range v.Out {
			pending[e.Consumer]--
			if pending[e.Consumer] == 0 {
				ready = append(ready, e.Consumer)
			}
		}
	}
	if len(order) != len(g.Vertices) {
		return nil, ErrCyclicPlan
	}
	return order, nil
}

// Validate checks the graph is acyclic, every edge has producers and every
// consumer has exactly one input edge.
func (g *PlanGraph) Validate() error {
	for _, v := range g.Vertices {
		if len(v.In) > 1 {
			return ErrBadEdge
		}
	}
	for _, e := range g.Edges {
		if len(e.Producers) == 0 {
			return errors.Errorf("ptxn: dependency %d has no producer", e.DependencyID)
		}
	}
	_, err := g.TopoOrder()
	return err
}

// Shape describes the topology of the graph without partitions or
// dependency ids, so two plans of the same batch compare equal.
func (g *PlanGraph) Shape() string {
	index := make(map[*PlanVertex]int, len(g.Vertices))
	for i, v := range g.Vertices {
		index[v] = i
	}
	var w strings.Builder
	for i, v := range g.Vertices {
		fmt.Fprintf(&w, "v%d[f%d,s%d,in=%d,out=%d]", i, v.Task.Fragment.ID, v.Task.StmtIndex, len(v.In), len(v.Out))
	}
	for _, e := range g.Edges {
		w.WriteString(" (")
		for i, p := range e.Producers {
			if i > 0 {
				w.WriteString(",")
			}
			fmt.Fprintf(&w, "v%d", index[p])
		}
		fmt.Fprintf(&w, ")->v%d", index[e.Consumer])
	}
	return w.String()
}
