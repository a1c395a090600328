package catalog

import (
	"fmt"

	"ptxn/pkg/types"

	"github.com/xwb1989/sqlparser"
)

type QueryType int8

const (
	QuerySelect QueryType = iota
	QueryInsert
	QueryUpdate
	QueryDelete
)

func (q QueryType) String() string {
	switch q {
	case QuerySelect:
		return "SELECT"
	case QueryInsert:
		return "INSERT"
	case QueryUpdate:
		return "UPDATE"
	case QueryDelete:
		return "DELETE"
	}
	return fmt.Sprintf("QueryType(%d)", int8(q))
}

func (q QueryType) IsWrite() bool { return q != QuerySelect }

// RouteKind tells the partition estimator how to pick target partitions.
type RouteKind int8

const (
	// RouteKeyed targets the one partition owning the key value.
	RouteKeyed RouteKind = iota
	// RouteAll targets every partition.
	RouteAll
	// RouteBase targets whatever partition the transaction runs on.
	RouteBase
)

func (r RouteKind) String() string {
	switch r {
	case RouteKeyed:
		return "KEYED"
	case RouteAll:
		return "ALL"
	case RouteBase:
		return "BASE"
	}
	return fmt.Sprintf("RouteKind(%d)", int8(r))
}

type FragmentKind int8

const (
	// FragmentSingle runs a whole statement on one partition.
	FragmentSingle FragmentKind = iota
	// FragmentMap runs on each target partition and feeds a reduce fragment.
	FragmentMap
	// FragmentReduce combines map outputs on the coordinating partition.
	FragmentReduce
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentSingle:
		return "SINGLE"
	case FragmentMap:
		return "MAP"
	case FragmentReduce:
		return "REDUCE"
	}
	return fmt.Sprintf("FragmentKind(%d)", int8(k))
}

type Fragment struct {
	ID              uint64
	Kind            FragmentKind
	Statement       *Statement
	ReadOnly        bool
	Tables          []uint64
	HasDependencies bool
}

func (f *Fragment) String() string {
	return fmt.Sprintf("FRAG<%d,%s,%s>", f.ID, f.Kind, f.Statement.FullName())
}

// StatementDef is the registration form of a SQL statement template.
type StatementDef struct {
	Name string
	SQL  string
	// ParamTypes overrides the types inferred from the statement text.
	ParamTypes []types.T
}

type Statement struct {
	ID          uint64
	Name        string
	ProcName    string
	ProcedureID uint64
	SQL         string
	AST         sqlparser.Statement
	Type        QueryType
	Table       *Table
	ParamTypes  []types.T

	ReferencedColumns []string
	OutputColumns     []string
	ModifiedColumns   []string

	Route RouteKind
	// PartitionParam is the statement parameter holding the key of a keyed
	// statement, -1 when the key is the PartitionLiteral.
	PartitionParam   int
	PartitionLiteral interface{}

	// Fragments is the single partition plan.
	Fragments []*Fragment
	// MSFragments is the map/reduce plan used when the statement spans
	// partitions. It is nil for keyed and base routed statements.
	MSFragments []*Fragment
}

func (s *Statement) ReadOnly() bool { return !s.Type.IsWrite() }

func (s *Statement) FullName() string {
	return s.ProcName + "." + s.Name
}

func (s *Statement) String() string {
	return fmt.Sprintf("STMT<%d,%s,%s,%s>", s.ID, s.FullName(), s.Type, s.Route)
}
