package catalog

import (
	"fmt"
	"sync"

	"ptxn/pkg/types"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/google/btree"
)

const NoPartitionParam = -1

// ProcedureDef is the registration form of a stored procedure.
type ProcedureDef struct {
	Name       string
	Params     []types.ParamType
	Statements []StatementDef
	// PartitionParam is the index of the parameter whose value picks the
	// base partition, or NoPartitionParam.
	PartitionParam int
	// MultiPartition dispatches every invocation as multi-partition.
	MultiPartition bool
	System         bool
	MapReduce      bool
}

type Procedure struct {
	ID              uint64
	Name            string
	Params          []types.ParamType
	Statements      []*Statement
	PartitionParam  int
	SinglePartition bool
	ReadOnly        bool
	System          bool
	MapReduce       bool

	mu             sync.RWMutex
	readConflicts  *roaring64.Bitmap
	writeConflicts *roaring64.Bitmap
}

func (p *Procedure) Less(item btree.Item) bool {
	return p.Name < item.(*Procedure).Name
}

func (p *Procedure) Statement(name string) *Statement {
	name = CanonicalName(name)
	for _, stmt := range p.Statements {
		if stmt.Name == name {
			return stmt
		}
	}
	return nil
}

// SetConflicts attaches the procedure ids p has read-write and write-write
// conflicts with.
func (p *Procedure) SetConflicts(rw, ww *roaring64.Bitmap) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readConflicts = rw
	p.writeConflicts = ww
}

func (p *Procedure) ReadConflicts() *roaring64.Bitmap {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.readConflicts == nil {
		return roaring64.New()
	}
	return p.readConflicts.Clone()
}

func (p *Procedure) WriteConflicts() *roaring64.Bitmap {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.writeConflicts == nil {
		return roaring64.New()
	}
	return p.writeConflicts.Clone()
}

// ConflictsWith reports whether p has any recorded conflict with procedure id.
func (p *Procedure) ConflictsWith(id uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.readConflicts != nil && p.readConflicts.Contains(id) {
		return true
	}
	return p.writeConflicts != nil && p.writeConflicts.Contains(id)
}

func (p *Procedure) String() string {
	return fmt.Sprintf("PROC<%d,%s,stmts=%d,sp=%v>", p.ID, p.Name, len(p.Statements), p.SinglePartition)
}
