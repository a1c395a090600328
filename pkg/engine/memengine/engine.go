package memengine

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"ptxn/pkg/catalog"
	"ptxn/pkg/iface/engineif"
	"ptxn/pkg/types"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const btreeDegree = 16

type rowItem struct {
	key  string
	vals []interface{}
}

func (r *rowItem) Less(item btree.Item) bool {
	return r.key < item.(*rowItem).key
}

type tableData struct {
	meta  *catalog.Table
	rows  *btree.BTree
	rowid uint64
}

func (td *tableData) encodeKey(vals []interface{}) string {
	if len(td.meta.PrimaryKey) == 0 {
		td.rowid++
		return fmt.Sprintf("#%016x", td.rowid)
	}
	parts := make([]string, len(td.meta.PrimaryKey))
	for i, idx := range td.meta.PrimaryKey {
		parts[i] = encodeKeyValue(vals[idx])
	}
	return strings.Join(parts, "\x00")
}

// encodeKeyValue keeps the natural order of integers.
func encodeKeyValue(v interface{}) string {
	switch x := normalize(v).(type) {
	case int64:
		return fmt.Sprintf("%016x", uint64(x)^(1<<63))
	case string:
		return x
	case []byte:
		return hex.EncodeToString(x)
	}
	return fmt.Sprintf("%v", v)
}

// undoEntry restores key of table to before, or removes it when before is
// nil.
type undoEntry struct {
	token  uint64
	table  *tableData
	key    string
	before *rowItem
}

// Engine is an in-memory engine serving one partition. Rows are kept in a
// btree per table ordered by primary key.
type Engine struct {
	sync.Mutex
	partition int32
	tables    map[string]*tableData
	undo      []undoEntry
}

func New(partition int32, cat *catalog.Catalog) *Engine {
	e := &Engine{
		partition: partition,
		tables:    make(map[string]*tableData),
	}
	e.SetCatalog(cat)
	return e
}

// SetCatalog adds the tables of cat that are not known yet. Existing data is
// kept.
func (e *Engine) SetCatalog(cat *catalog.Catalog) {
	e.Lock()
	defer e.Unlock()
	for _, t := range cat.Tables() {
		if td, ok := e.tables[t.Name]; ok {
			td.meta = t
			continue
		}
		e.tables[t.Name] = &tableData{meta: t, rows: btree.New(btreeDegree)}
	}
}

func (e *Engine) Partition() int32 { return e.partition }

func (e *Engine) table(name string) (*tableData, error) {
	td, ok := e.tables[catalog.CanonicalName(name)]
	if !ok {
		return nil, errors.Wrapf(catalog.ErrNotFound, "table %s on partition %d", name, e.partition)
	}
	return td, nil
}

// Load inserts rows without undo logging.
func (e *Engine) Load(table string, rows ...[]interface{}) error {
	e.Lock()
	defer e.Unlock()
	td, err := e.table(table)
	if err != nil {
		return err
	}
	for _, row := range rows {
		vals, err := td.castRow(row)
		if err != nil {
			return err
		}
		key := td.encodeKey(vals)
		if td.rows.Has(&rowItem{key: key}) {
			return &engineif.ConstraintError{Table: table, Key: key, Msg: "duplicate primary key"}
		}
		td.rows.ReplaceOrInsert(&rowItem{key: key, vals: vals})
	}
	return nil
}

func (td *tableData) castRow(row []interface{}) ([]interface{}, error) {
	if len(row) != len(td.meta.Columns) {
		return nil, errors.Errorf("ptxn: %d values for %d columns of %s", len(row), len(td.meta.Columns), td.meta.Name)
	}
	vals := make([]interface{}, len(row))
	for i, v := range row {
		cv, err := castTo(td.meta.Columns[i].Type, v)
		if err != nil {
			return nil, errors.Errorf("ptxn: %s.%s: %v", td.meta.Name, td.meta.Columns[i].Name, err)
		}
		vals[i] = cv
	}
	return vals, nil
}

// Rows returns a copy of the rows of table in primary key order.
func (e *Engine) Rows(table string) ([][]interface{}, error) {
	e.Lock()
	defer e.Unlock()
	td, err := e.table(table)
	if err != nil {
		return nil, err
	}
	var rows [][]interface{}
	td.rows.Ascend(func(item btree.Item) bool {
		rows = append(rows, append([]interface{}(nil), item.(*rowItem).vals...))
		return true
	})
	return rows, nil
}

func (e *Engine) Count(table string) int {
	e.Lock()
	defer e.Unlock()
	td, err := e.table(table)
	if err != nil {
		return 0
	}
	return td.rows.Len()
}

func (e *Engine) UndoLogLen() int {
	e.Lock()
	defer e.Unlock()
	return len(e.undo)
}

func (e *Engine) logUndo(token uint64, td *tableData, key string, before *rowItem) {
	e.undo = append(e.undo, undoEntry{token: token, table: td, key: key, before: before})
}

func (e *Engine) Undo(token uint64) error {
	e.Lock()
	defer e.Unlock()
	i := len(e.undo)
	for i > 0 && e.undo[i-1].token >= token {
		i--
		entry := e.undo[i]
		if entry.before == nil {
			entry.table.rows.Delete(&rowItem{key: entry.key})
		} else {
			entry.table.rows.ReplaceOrInsert(entry.before)
		}
	}
	logrus.Debugf("partition %d undo from token %d: %d entries", e.partition, token, len(e.undo)-i)
	e.undo = e.undo[:i]
	return nil
}

func (e *Engine) Release(token uint64) error {
	e.Lock()
	defer e.Unlock()
	i := sort.Search(len(e.undo), func(i int) bool { return e.undo[i].token > token })
	e.undo = append(e.undo[:0:0], e.undo[i:]...)
	return nil
}

func (e *Engine) ExecuteFragments(ctx context.Context, req *engineif.FragmentRequest) (map[int32]*types.Table, error) {
	e.Lock()
	defer e.Unlock()
	results := make(map[int32]*types.Table, len(req.Tasks))
	for _, task := range req.Tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frag := task.Fragment
		stmt := frag.Statement
		if req.ReadOnly && !frag.ReadOnly {
			return nil, &engineif.SQLError{Statement: stmt.FullName(), Msg: "write in a read-only request"}
		}
		var out *types.Table
		var err error
		switch frag.Kind {
		case catalog.FragmentSingle:
			out, err = e.execute(stmt, task.Params, req.UndoToken, false)
		case catalog.FragmentMap:
			out, err = e.execute(stmt, task.Params, req.UndoToken, true)
		case catalog.FragmentReduce:
			if len(task.InputDeps) != 1 {
				err = errors.Errorf("reduce fragment with %d inputs", len(task.InputDeps))
				break
			}
			out, err = reduce(stmt, task.Params, req.Inputs[task.InputDeps[0]])
		default:
			err = errors.Errorf("unknown fragment kind %s", frag.Kind)
		}
		if err != nil {
			if isEngineError(err) {
				return nil, err
			}
			return nil, &engineif.SQLError{Statement: stmt.FullName(), Msg: err.Error()}
		}
		results[task.OutputDep] = out
	}
	return results, nil
}

func isEngineError(err error) bool {
	var ce *engineif.ConstraintError
	var se *engineif.SQLError
	return errors.As(err, &ce) || errors.As(err, &se)
}
