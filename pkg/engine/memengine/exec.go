package memengine

import (
	"fmt"
	"sort"
	"strings"

	"ptxn/pkg/catalog"
	"ptxn/pkg/iface/engineif"
	"ptxn/pkg/types"

	"github.com/google/btree"
	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"
)

// execute runs a statement against the local rows. With partial set a
// SELECT keeps its ORDER BY keys as trailing columns and returns partial
// aggregates, so that a reduce fragment can combine it with other
// partitions.
func (e *Engine) execute(stmt *catalog.Statement, params []interface{}, token uint64, partial bool) (*types.Table, error) {
	td, err := e.table(stmt.Table.Name)
	if err != nil {
		return nil, err
	}
	ev := &evaluator{table: td.meta, params: params}
	switch ast := stmt.AST.(type) {
	case *sqlparser.Select:
		return e.doSelect(td, ev, ast, partial)
	case *sqlparser.Insert:
		return e.doInsert(td, ev, ast, token)
	case *sqlparser.Update:
		return e.doUpdate(td, ev, ast, token)
	case *sqlparser.Delete:
		return e.doDelete(td, ev, ast, token)
	}
	return nil, errors.Errorf("unsupported statement %s", stmt.SQL)
}

func (e *Engine) scan(td *tableData, ev *evaluator, where *sqlparser.Where) ([]*rowItem, error) {
	var (
		hits []*rowItem
		err  error
	)
	td.rows.Ascend(func(item btree.Item) bool {
		row := item.(*rowItem)
		var ok bool
		if ok, err = ev.matches(where, row.vals); err != nil {
			return false
		}
		if ok {
			hits = append(hits, row)
		}
		return true
	})
	return hits, err
}

func displayKey(td *tableData, vals []interface{}) string {
	parts := make([]string, len(td.meta.PrimaryKey))
	for i, idx := range td.meta.PrimaryKey {
		parts[i] = fmt.Sprintf("%v", vals[idx])
	}
	return strings.Join(parts, ",")
}

func (e *Engine) checkKey(td *tableData, vals []interface{}) error {
	for _, idx := range td.meta.PrimaryKey {
		if types.IsNull(vals[idx]) {
			return &engineif.ConstraintError{
				Table: td.meta.Name,
				Key:   displayKey(td, vals),
				Msg:   fmt.Sprintf("primary key column %s is NULL", td.meta.Columns[idx].Name),
			}
		}
	}
	return nil
}

func (e *Engine) doInsert(td *tableData, ev *evaluator, ast *sqlparser.Insert, token uint64) (*types.Table, error) {
	values, ok := ast.Rows.(sqlparser.Values)
	if !ok || len(values) != 1 {
		return nil, errors.New("INSERT needs exactly one VALUES tuple")
	}
	cols := make([]int, len(values[0]))
	for i := range cols {
		cols[i] = i
	}
	if len(ast.Columns) > 0 {
		for i, c := range ast.Columns {
			if cols[i] = td.meta.ColumnIndex(c.String()); cols[i] < 0 {
				return nil, errors.Errorf("unknown column %s", c.String())
			}
		}
	}
	vals := make([]interface{}, len(td.meta.Columns))
	for i, col := range td.meta.Columns {
		null, err := castTo(col.Type, nil)
		if err != nil {
			return nil, err
		}
		vals[i] = null
	}
	for i, expr := range values[0] {
		v, err := ev.eval(expr)
		if err != nil {
			return nil, err
		}
		col := td.meta.Columns[cols[i]]
		if vals[cols[i]], err = castTo(col.Type, v); err != nil {
			return nil, errors.Errorf("%s.%s: %v", td.meta.Name, col.Name, err)
		}
	}
	if err := e.checkKey(td, vals); err != nil {
		return nil, err
	}
	key := td.encodeKey(vals)
	if td.rows.Has(&rowItem{key: key}) {
		return nil, &engineif.ConstraintError{Table: td.meta.Name, Key: displayKey(td, vals), Msg: "duplicate primary key"}
	}
	e.logUndo(token, td, key, nil)
	td.rows.ReplaceOrInsert(&rowItem{key: key, vals: vals})
	return types.NewScalarTable(1), nil
}

func (e *Engine) doUpdate(td *tableData, ev *evaluator, ast *sqlparser.Update, token uint64) (*types.Table, error) {
	hits, err := e.scan(td, ev, ast.Where)
	if err != nil {
		return nil, err
	}
	for _, old := range hits {
		vals := append([]interface{}(nil), old.vals...)
		ev.row = old.vals
		for _, ue := range ast.Exprs {
			idx := td.meta.ColumnIndex(ue.Name.Name.String())
			if idx < 0 {
				return nil, errors.Errorf("unknown column %s", ue.Name.Name.String())
			}
			v, err := ev.eval(ue.Expr)
			if err != nil {
				return nil, err
			}
			col := td.meta.Columns[idx]
			if vals[idx], err = castTo(col.Type, v); err != nil {
				return nil, errors.Errorf("%s.%s: %v", td.meta.Name, col.Name, err)
			}
		}
		key := old.key
		if len(td.meta.PrimaryKey) > 0 {
			if err = e.checkKey(td, vals); err != nil {
				return nil, err
			}
			key = td.encodeKey(vals)
		}
		if key != old.key {
			if td.rows.Has(&rowItem{key: key}) {
				return nil, &engineif.ConstraintError{Table: td.meta.Name, Key: displayKey(td, vals), Msg: "duplicate primary key"}
			}
			e.logUndo(token, td, old.key, old)
			td.rows.Delete(old)
			e.logUndo(token, td, key, nil)
		} else {
			e.logUndo(token, td, key, old)
		}
		td.rows.ReplaceOrInsert(&rowItem{key: key, vals: vals})
	}
	return types.NewScalarTable(int64(len(hits))), nil
}

func (e *Engine) doDelete(td *tableData, ev *evaluator, ast *sqlparser.Delete, token uint64) (*types.Table, error) {
	hits, err := e.scan(td, ev, ast.Where)
	if err != nil {
		return nil, err
	}
	for _, old := range hits {
		e.logUndo(token, td, old.key, old)
		td.rows.Delete(old)
	}
	return types.NewScalarTable(int64(len(hits))), nil
}

// projection is the compiled select list of a statement.
type projection struct {
	columns []types.Column
	// index of the source column per output column, for plain selects
	sources []int
	aggs    []*aggregate
	orderBy []int
	desc    []bool
}

func (p *projection) aggregated() bool { return len(p.aggs) > 0 }

type aggregate struct {
	fn    string
	col   int
	star  bool
	typ   types.T
	input types.T
}

func outputName(e *sqlparser.AliasedExpr) string {
	if !e.As.IsEmpty() {
		return strings.ToUpper(e.As.String())
	}
	if col, ok := e.Expr.(*sqlparser.ColName); ok {
		return strings.ToUpper(col.Name.String())
	}
	return strings.ToUpper(sqlparser.String(e.Expr))
}

func compileProjection(t *catalog.Table, ast *sqlparser.Select) (*projection, error) {
	p := new(projection)
	for _, se := range ast.SelectExprs {
		switch e := se.(type) {
		case *sqlparser.StarExpr:
			for i, col := range t.Columns {
				p.columns = append(p.columns, col)
				p.sources = append(p.sources, i)
			}
		case *sqlparser.AliasedExpr:
			switch inner := e.Expr.(type) {
			case *sqlparser.ColName:
				idx := t.ColumnIndex(inner.Name.String())
				if idx < 0 {
					return nil, errors.Errorf("unknown column %s", inner.Name.String())
				}
				p.columns = append(p.columns, types.Column{Name: outputName(e), Type: t.Columns[idx].Type})
				p.sources = append(p.sources, idx)
			case *sqlparser.FuncExpr:
				agg, err := compileAggregate(t, inner)
				if err != nil {
					return nil, err
				}
				p.columns = append(p.columns, types.Column{Name: outputName(e), Type: agg.typ})
				p.aggs = append(p.aggs, agg)
			default:
				return nil, errors.Errorf("unsupported select expression %s", sqlparser.String(e))
			}
		default:
			return nil, errors.Errorf("unsupported select expression %s", sqlparser.String(se))
		}
	}
	if p.aggregated() && len(p.sources) > 0 {
		return nil, errors.New("columns mixed with aggregates need GROUP BY")
	}
	for _, order := range ast.OrderBy {
		col, ok := order.Expr.(*sqlparser.ColName)
		if !ok {
			return nil, errors.Errorf("unsupported ORDER BY %s", sqlparser.String(order.Expr))
		}
		idx := t.ColumnIndex(col.Name.String())
		if idx < 0 {
			return nil, errors.Errorf("unknown column %s", col.Name.String())
		}
		p.orderBy = append(p.orderBy, idx)
		p.desc = append(p.desc, order.Direction == sqlparser.DescScr)
	}
	return p, nil
}

func compileAggregate(t *catalog.Table, fe *sqlparser.FuncExpr) (*aggregate, error) {
	agg := &aggregate{fn: fe.Name.Lowered(), col: -1}
	if len(fe.Exprs) != 1 || fe.Distinct {
		return nil, errors.Errorf("unsupported aggregate %s", sqlparser.String(fe))
	}
	switch arg := fe.Exprs[0].(type) {
	case *sqlparser.StarExpr:
		if agg.fn != "count" {
			return nil, errors.Errorf("%s(*) is not supported", agg.fn)
		}
		agg.star = true
	case *sqlparser.AliasedExpr:
		col, ok := arg.Expr.(*sqlparser.ColName)
		if !ok {
			return nil, errors.Errorf("unsupported aggregate argument %s", sqlparser.String(arg))
		}
		if agg.col = t.ColumnIndex(col.Name.String()); agg.col < 0 {
			return nil, errors.Errorf("unknown column %s", col.Name.String())
		}
		agg.input = t.Columns[agg.col].Type
	}
	switch agg.fn {
	case "count":
		agg.typ = types.T_bigint
	case "sum":
		switch {
		case agg.input.IsIntegral():
			agg.typ = types.T_bigint
		case agg.input == types.T_float || agg.input == types.T_decimal:
			agg.typ = agg.input
		default:
			return nil, errors.Errorf("cannot SUM a %s column", agg.input)
		}
	case "min", "max":
		agg.typ = agg.input
	default:
		return nil, errors.Errorf("unsupported function %s", agg.fn)
	}
	return agg, nil
}

// step folds v into acc. acc is nil before the first non null value.
func (agg *aggregate) step(acc, v interface{}) (interface{}, error) {
	if types.IsNull(v) {
		return acc, nil
	}
	if acc == nil {
		if agg.fn == "sum" {
			return normalize(v), nil
		}
		return v, nil
	}
	switch agg.fn {
	case "sum", "count":
		return arith("+", acc, v)
	case "min":
		if sortCompare(v, acc) < 0 {
			return v, nil
		}
	case "max":
		if sortCompare(v, acc) > 0 {
			return v, nil
		}
	}
	return acc, nil
}

func (agg *aggregate) result(acc interface{}) (interface{}, error) {
	if acc == nil {
		if agg.fn == "count" {
			return int64(0), nil
		}
		return castTo(agg.typ, nil)
	}
	return acc, nil
}

func (p *projection) aggregateRows(rows [][]interface{}, fromPartials bool) ([]interface{}, error) {
	out := make([]interface{}, len(p.aggs))
	for i, agg := range p.aggs {
		var acc interface{}
		var err error
		for _, row := range rows {
			var v interface{}
			switch {
			case fromPartials:
				v = row[i]
			case agg.fn == "count":
				if !agg.star && types.IsNull(row[agg.col]) {
					continue
				}
				v = int64(1)
			default:
				v = row[agg.col]
			}
			if acc, err = agg.step(acc, v); err != nil {
				return nil, err
			}
		}
		if out[i], err = agg.result(acc); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (e *Engine) doSelect(td *tableData, ev *evaluator, ast *sqlparser.Select, partial bool) (*types.Table, error) {
	p, err := compileProjection(td.meta, ast)
	if err != nil {
		return nil, err
	}
	hits, err := e.scan(td, ev, ast.Where)
	if err != nil {
		return nil, err
	}
	out := types.NewTable(p.columns...)
	if p.aggregated() {
		rows := make([][]interface{}, len(hits))
		for i, hit := range hits {
			rows[i] = hit.vals
		}
		row, err := p.aggregateRows(rows, false)
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, row)
		return out, nil
	}
	for _, idx := range p.orderBy {
		if partial {
			out.Columns = append(out.Columns, types.Column{Name: fmt.Sprintf("$ORDER%d", len(out.Columns)), Type: td.meta.Columns[idx].Type})
		}
	}
	keyed := make([]orderedRow, len(hits))
	for i, hit := range hits {
		row := make([]interface{}, 0, len(out.Columns))
		for _, idx := range p.sources {
			row = append(row, hit.vals[idx])
		}
		keys := make([]interface{}, len(p.orderBy))
		for j, idx := range p.orderBy {
			keys[j] = hit.vals[idx]
		}
		if partial {
			row = append(row, keys...)
		}
		keyed[i] = orderedRow{row: row, keys: keys}
	}
	p.sortRows(keyed)
	offset, limit, err := limits(ev, ast.Limit)
	if err != nil {
		return nil, err
	}
	if partial {
		// every partition keeps enough rows to serve the final page
		if limit >= 0 {
			keyed = page(keyed, 0, offset+limit)
		}
	} else {
		keyed = page(keyed, offset, limit)
	}
	for _, r := range keyed {
		out.Rows = append(out.Rows, r.row)
	}
	return out, nil
}

type orderedRow struct {
	row  []interface{}
	keys []interface{}
}

func (p *projection) sortRows(rows []orderedRow) {
	if len(p.orderBy) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for k := range p.orderBy {
			c := sortCompare(rows[i].keys[k], rows[j].keys[k])
			if p.desc[k] {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
}

func limits(ev *evaluator, limit *sqlparser.Limit) (offset, count int64, err error) {
	if limit == nil {
		return 0, -1, nil
	}
	ev.row = nil
	if offset, err = ev.limitValue(limit.Offset); err != nil {
		return
	}
	if offset < 0 {
		offset = 0
	}
	count, err = ev.limitValue(limit.Rowcount)
	return
}

func page(rows []orderedRow, offset, limit int64) []orderedRow {
	if offset >= int64(len(rows)) {
		return nil
	}
	rows = rows[offset:]
	if limit >= 0 && limit < int64(len(rows)) {
		rows = rows[:limit]
	}
	return rows
}

// reduce combines the map outputs of all partitions. Inputs are ordered by
// producing partition.
func reduce(stmt *catalog.Statement, params []interface{}, inputs []*types.Table) (*types.Table, error) {
	if stmt.Type.IsWrite() {
		var count int64
		for i, in := range inputs {
			n, err := in.AsScalarLong()
			if err != nil {
				return nil, err
			}
			if stmt.Table.IsReplicated() {
				// every partition applied the same change
				if i == 0 {
					count = n
				}
				continue
			}
			count += n
		}
		return types.NewScalarTable(count), nil
	}
	ast, ok := stmt.AST.(*sqlparser.Select)
	if !ok {
		return nil, errors.Errorf("unsupported statement %s", stmt.SQL)
	}
	p, err := compileProjection(stmt.Table, ast)
	if err != nil {
		return nil, err
	}
	out := types.NewTable(p.columns...)
	var rows [][]interface{}
	for _, in := range inputs {
		rows = append(rows, in.Rows...)
	}
	if p.aggregated() {
		row, err := p.aggregateRows(rows, true)
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, row)
		return out, nil
	}
	visible := len(p.columns)
	keyed := make([]orderedRow, len(rows))
	for i, row := range rows {
		if len(row) != visible+len(p.orderBy) {
			return nil, errors.Errorf("map output has %d columns, expected %d", len(row), visible+len(p.orderBy))
		}
		keyed[i] = orderedRow{row: row[:visible:visible], keys: row[visible:]}
	}
	p.sortRows(keyed)
	ev := &evaluator{table: stmt.Table, params: params}
	offset, limit, err := limits(ev, ast.Limit)
	if err != nil {
		return nil, err
	}
	for _, r := range page(keyed, offset, limit) {
		out.Rows = append(out.Rows, r.row)
	}
	return out, nil
}
