package catalog

import (
	"fmt"
	"strings"

	"ptxn/pkg/types"

	"github.com/google/btree"
	"github.com/pkg/errors"
)

// TableDef is the registration form of a table.
type TableDef struct {
	Name       string
	Columns    []types.Column
	PrimaryKey []string
	// PartitionColumn is empty for replicated tables.
	PartitionColumn string
}

// +--------+---------+---------+------------+-----------------+
// |   ID   |  Name   | Columns | PrimaryKey | PartitionColumn |
// +--------+---------+---------+------------+-----------------+
// |(uint64)|(varchar)|  []col  |   []int    |  (int, -1=repl) |
// +--------+---------+---------+------------+-----------------+
type Table struct {
	ID              uint64
	Name            string
	Columns         []types.Column
	PrimaryKey      []int
	PartitionColumn int
}

func (t *Table) Less(item btree.Item) bool {
	return t.Name < item.(*Table).Name
}

func (t *Table) IsReplicated() bool {
	return t.PartitionColumn < 0
}

func (t *Table) ColumnIndex(name string) int {
	name = CanonicalName(name)
	for i, col := range t.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

func (t *Table) String() string {
	if t.IsReplicated() {
		return fmt.Sprintf("TABLE<%d,%s,REPLICATED>", t.ID, t.Name)
	}
	return fmt.Sprintf("TABLE<%d,%s,PARTITION ON %s>", t.ID, t.Name, t.Columns[t.PartitionColumn].Name)
}

func newTable(id uint64, def TableDef) (*Table, error) {
	name := CanonicalName(def.Name)
	if name == "" {
		return nil, errors.Wrap(ErrUnsupportedSQL, "empty table name")
	}
	if len(def.Columns) == 0 {
		return nil, errors.Wrapf(ErrUnsupportedSQL, "table %s has no columns", name)
	}
	t := &Table{
		ID:              id,
		Name:            name,
		Columns:         make([]types.Column, len(def.Columns)),
		PartitionColumn: -1,
	}
	seen := make(map[string]bool)
	for i, col := range def.Columns {
		cname := CanonicalName(col.Name)
		if seen[cname] {
			return nil, errors.Wrapf(ErrDuplicate, "column %s.%s", name, cname)
		}
		if col.Type == types.T_invalid || col.Type == types.T_table {
			return nil, errors.Wrapf(ErrUnsupportedSQL, "column %s.%s has type %s", name, cname, col.Type)
		}
		seen[cname] = true
		t.Columns[i] = types.Column{Name: cname, Type: col.Type}
	}
	for _, pk := range def.PrimaryKey {
		idx := t.ColumnIndex(pk)
		if idx < 0 {
			return nil, errors.Wrapf(ErrUnknownColumn, "primary key %s.%s", name, pk)
		}
		t.PrimaryKey = append(t.PrimaryKey, idx)
	}
	if def.PartitionColumn != "" {
		if t.PartitionColumn = t.ColumnIndex(def.PartitionColumn); t.PartitionColumn < 0 {
			return nil, errors.Wrapf(ErrUnknownColumn, "partition column %s.%s", name, def.PartitionColumn)
		}
	}
	return t, nil
}

// CanonicalName is the form table, procedure and statement names are stored
// and looked up in.
func CanonicalName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
