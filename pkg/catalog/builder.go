package catalog

import (
	"github.com/matrixorigin/matrixone/pkg/vm/engine/aoe/storage/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Builder collects table and procedure registrations and compiles them into
// a Catalog.
type Builder struct {
	version uint64
	tables  []TableDef
	procs   []ProcedureDef
}

func NewBuilder(version uint64) *Builder {
	return &Builder{version: version}
}

func (b *Builder) AddTable(def TableDef) *Builder {
	b.tables = append(b.tables, def)
	return b
}

func (b *Builder) AddProcedure(def ProcedureDef) *Builder {
	b.procs = append(b.procs, def)
	return b
}

func (b *Builder) Build() (*Catalog, error) {
	catalog := newCatalog(b.version)
	idAlloc := common.NewIdAlloctor(1)
	for _, def := range b.tables {
		t, err := newTable(idAlloc.Alloc(), def)
		if err != nil {
			return nil, err
		}
		if catalog.tables.Has(t) {
			return nil, errors.Wrapf(ErrDuplicate, "table %s", t.Name)
		}
		catalog.tables.ReplaceOrInsert(t)
		catalog.tablesByID[t.ID] = t
	}
	lookup := func(name string) *Table {
		if item := catalog.tables.Get(&Table{Name: name}); item != nil {
			return item.(*Table)
		}
		return nil
	}
	for _, def := range b.procs {
		proc, err := b.buildProcedure(catalog, idAlloc, def, lookup)
		if err != nil {
			return nil, errors.WithMessagef(err, "procedure %s", def.Name)
		}
		catalog.procedures.ReplaceOrInsert(proc)
		catalog.proceduresByID[proc.ID] = proc
	}
	logrus.Debugf("catalog v%d built: %d tables, %d procedures, %d fragments",
		catalog.version, catalog.tables.Len(), catalog.procedures.Len(), len(catalog.fragments))
	return catalog, nil
}

func (b *Builder) buildProcedure(catalog *Catalog, idAlloc *common.IdAlloctor, def ProcedureDef, lookup func(string) *Table) (*Procedure, error) {
	name := CanonicalName(def.Name)
	if name == "" {
		return nil, errors.Wrap(ErrUnsupportedSQL, "empty procedure name")
	}
	if catalog.procedures.Has(&Procedure{Name: name}) {
		return nil, ErrDuplicate
	}
	if def.PartitionParam != NoPartitionParam {
		if def.PartitionParam < 0 || def.PartitionParam >= len(def.Params) {
			return nil, errors.Wrapf(ErrBadPartitionParam, "index %d with %d params", def.PartitionParam, len(def.Params))
		}
		if def.Params[def.PartitionParam].Array {
			return nil, errors.Wrap(ErrBadPartitionParam, "array parameter")
		}
	}
	proc := &Procedure{
		ID:              idAlloc.Alloc(),
		Name:            name,
		Params:          def.Params,
		PartitionParam:  def.PartitionParam,
		SinglePartition: !def.MultiPartition,
		ReadOnly:        true,
		System:          def.System,
		MapReduce:       def.MapReduce,
	}
	for _, sdef := range def.Statements {
		sname := CanonicalName(sdef.Name)
		if proc.Statement(sname) != nil {
			return nil, errors.Wrapf(ErrDuplicate, "statement %s", sname)
		}
		a, err := analyze(sdef.SQL, lookup)
		if err != nil {
			return nil, errors.WithMessagef(err, "statement %s", sname)
		}
		if sdef.ParamTypes != nil {
			if len(sdef.ParamTypes) != len(a.paramTypes) {
				return nil, errors.Wrapf(ErrUntypedParam, "statement %s declares %d types for %d parameters",
					sname, len(sdef.ParamTypes), len(a.paramTypes))
			}
			copy(a.paramTypes, sdef.ParamTypes)
		}
		if err = a.checkTypes(); err != nil {
			return nil, errors.WithMessagef(err, "statement %s", sname)
		}
		stmt := &Statement{
			ID:                idAlloc.Alloc(),
			Name:              sname,
			ProcName:          name,
			ProcedureID:       proc.ID,
			SQL:               sdef.SQL,
			AST:               a.ast,
			Type:              a.typ,
			Table:             a.table,
			ParamTypes:        a.paramTypes,
			ReferencedColumns: a.referenced.sorted(),
			OutputColumns:     a.output.sorted(),
			ModifiedColumns:   a.modified.sorted(),
			Route:             a.route(),
			PartitionParam:    a.partitionParam,
			PartitionLiteral:  a.partitionLiteral,
		}
		compileFragments(catalog, idAlloc, stmt)
		catalog.statements[stmt.ID] = stmt
		proc.Statements = append(proc.Statements, stmt)
		if stmt.Type.IsWrite() {
			proc.ReadOnly = false
		}
	}
	return proc, nil
}

// compileFragments gives every statement a single partition plan and, when
// it may span partitions, a map/reduce plan.
func compileFragments(catalog *Catalog, idAlloc *common.IdAlloctor, stmt *Statement) {
	newFragment := func(kind FragmentKind, deps bool) *Fragment {
		frag := &Fragment{
			ID:              idAlloc.Alloc(),
			Kind:            kind,
			Statement:       stmt,
			ReadOnly:        stmt.ReadOnly(),
			Tables:          []uint64{stmt.Table.ID},
			HasDependencies: deps,
		}
		catalog.fragments[frag.ID] = frag
		return frag
	}
	stmt.Fragments = []*Fragment{newFragment(FragmentSingle, false)}
	if stmt.Route == RouteAll {
		stmt.MSFragments = []*Fragment{
			newFragment(FragmentMap, false),
			newFragment(FragmentReduce, true),
		}
	}
}
