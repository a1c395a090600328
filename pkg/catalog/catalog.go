package catalog

import (
	"fmt"
	"strings"

	"github.com/google/btree"
	"github.com/pkg/errors"
)

// Catalog is an immutable, versioned schema and partitioning oracle. Ids of
// statements and fragments are only meaningful within one version.
type Catalog struct {
	version uint64

	tables         *btree.BTree
	tablesByID     map[uint64]*Table
	procedures     *btree.BTree
	proceduresByID map[uint64]*Procedure
	statements     map[uint64]*Statement
	fragments      map[uint64]*Fragment
}

func newCatalog(version uint64) *Catalog {
	return &Catalog{
		version:        version,
		tables:         btree.New(8),
		tablesByID:     make(map[uint64]*Table),
		procedures:     btree.New(8),
		proceduresByID: make(map[uint64]*Procedure),
		statements:     make(map[uint64]*Statement),
		fragments:      make(map[uint64]*Fragment),
	}
}

func (catalog *Catalog) Version() uint64 { return catalog.version }

func (catalog *Catalog) Table(name string) (*Table, error) {
	item := catalog.tables.Get(&Table{Name: CanonicalName(name)})
	if item == nil {
		return nil, errors.Wrapf(ErrNotFound, "table %s", name)
	}
	return item.(*Table), nil
}

func (catalog *Catalog) TableByID(id uint64) (*Table, error) {
	t, ok := catalog.tablesByID[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "table %d", id)
	}
	return t, nil
}

// Tables returns all tables ordered by name.
func (catalog *Catalog) Tables() []*Table {
	tables := make([]*Table, 0, catalog.tables.Len())
	catalog.tables.Ascend(func(item btree.Item) bool {
		tables = append(tables, item.(*Table))
		return true
	})
	return tables
}

func (catalog *Catalog) Procedure(name string) (*Procedure, error) {
	item := catalog.procedures.Get(&Procedure{Name: CanonicalName(name)})
	if item == nil {
		return nil, errors.Wrapf(ErrNotFound, "procedure %s", name)
	}
	return item.(*Procedure), nil
}

func (catalog *Catalog) ProcedureByID(id uint64) (*Procedure, error) {
	p, ok := catalog.proceduresByID[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "procedure %d", id)
	}
	return p, nil
}

// Procedures returns all procedures ordered by name.
func (catalog *Catalog) Procedures() []*Procedure {
	procs := make([]*Procedure, 0, catalog.procedures.Len())
	catalog.procedures.Ascend(func(item btree.Item) bool {
		procs = append(procs, item.(*Procedure))
		return true
	})
	return procs
}

func (catalog *Catalog) Statement(id uint64) (*Statement, error) {
	stmt, ok := catalog.statements[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "statement %d", id)
	}
	return stmt, nil
}

func (catalog *Catalog) Fragment(id uint64) (*Fragment, error) {
	frag, ok := catalog.fragments[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "fragment %d", id)
	}
	return frag, nil
}

func (catalog *Catalog) String() string {
	var w strings.Builder
	_, _ = w.WriteString(fmt.Sprintf("CATALOG<v%d>", catalog.version))
	for _, t := range catalog.Tables() {
		_, _ = w.WriteString(fmt.Sprintf("\n  %s", t.String()))
	}
	for _, p := range catalog.Procedures() {
		_, _ = w.WriteString(fmt.Sprintf("\n  %s", p.String()))
		for _, stmt := range p.Statements {
			_, _ = w.WriteString(fmt.Sprintf("\n    %s", stmt.String()))
		}
	}
	return w.String()
}
