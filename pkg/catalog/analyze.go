package catalog

import (
	"sort"
	"strconv"
	"strings"

	"ptxn/pkg/types"

	"github.com/pkg/errors"
	"github.com/xwb1989/sqlparser"
)

type columnSet map[string]bool

func (s columnSet) add(names ...string) {
	for _, name := range names {
		s[name] = true
	}
}

func (s columnSet) sorted() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// analysis is what the catalog learns about one statement template.
type analysis struct {
	ast        sqlparser.Statement
	typ        QueryType
	table      *Table
	paramTypes []types.T

	referenced columnSet
	output     columnSet
	modified   columnSet

	keyed            bool
	partitionParam   int
	partitionLiteral interface{}
}

func analyze(sql string, lookup func(name string) *Table) (*analysis, error) {
	ast, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, errors.Wrapf(ErrUnsupportedSQL, "%s: %v", sql, err)
	}
	a := &analysis{
		ast:            ast,
		referenced:     make(columnSet),
		output:         make(columnSet),
		modified:       make(columnSet),
		partitionParam: -1,
	}
	nparams, err := countParams(ast)
	if err != nil {
		return nil, err
	}
	a.paramTypes = make([]types.T, nparams)

	switch stmt := ast.(type) {
	case *sqlparser.Select:
		err = a.analyzeSelect(stmt, lookup)
	case *sqlparser.Insert:
		err = a.analyzeInsert(stmt, lookup)
	case *sqlparser.Update:
		err = a.analyzeUpdate(stmt, lookup)
	case *sqlparser.Delete:
		err = a.analyzeDelete(stmt, lookup)
	default:
		err = errors.Wrapf(ErrUnsupportedSQL, "%s", sql)
	}
	if err != nil {
		return nil, errors.WithMessage(err, sql)
	}
	return a, nil
}

// countParams returns the number of positional placeholders, which must be
// numbered without gaps.
func countParams(ast sqlparser.Statement) (int, error) {
	seen := make(map[int]bool)
	err := sqlparser.Walk(func(node sqlparser.SQLNode) (bool, error) {
		if idx, ok := ParamIndex(node); ok {
			seen[idx] = true
		} else if val, isVal := node.(*sqlparser.SQLVal); isVal && val.Type == sqlparser.ValArg {
			return false, errors.Wrapf(ErrUnsupportedSQL, "named parameter %s", val.Val)
		}
		return true, nil
	}, ast)
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(seen); i++ {
		if !seen[i] {
			return 0, errors.Wrapf(ErrUnsupportedSQL, "parameter %d is missing", i)
		}
	}
	return len(seen), nil
}

// ParamIndex returns the zero based position of a '?' placeholder.
func ParamIndex(node sqlparser.SQLNode) (int, bool) {
	val, ok := node.(*sqlparser.SQLVal)
	if !ok || val.Type != sqlparser.ValArg {
		return 0, false
	}
	name := string(val.Val)
	if !strings.HasPrefix(name, ":v") {
		return 0, false
	}
	n, err := strconv.Atoi(name[2:])
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

func LiteralValue(val *sqlparser.SQLVal) (interface{}, bool) {
	switch val.Type {
	case sqlparser.IntVal:
		v, err := strconv.ParseInt(string(val.Val), 10, 64)
		if err != nil {
			return nil, false
		}
		return v, true
	case sqlparser.StrVal:
		return string(val.Val), true
	case sqlparser.FloatVal:
		v, err := strconv.ParseFloat(string(val.Val), 64)
		if err != nil {
			return nil, false
		}
		return v, true
	}
	return nil, false
}

func singleTable(exprs sqlparser.TableExprs, lookup func(string) *Table) (*Table, error) {
	if len(exprs) != 1 {
		return nil, errors.Wrap(ErrUnsupportedSQL, "exactly one table expected")
	}
	aliased, ok := exprs[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return nil, errors.Wrap(ErrUnsupportedSQL, "joins are not supported")
	}
	name, ok := aliased.Expr.(sqlparser.TableName)
	if !ok {
		return nil, errors.Wrap(ErrUnsupportedSQL, "subqueries are not supported")
	}
	return tableByName(name.Name.String(), lookup)
}

func tableByName(name string, lookup func(string) *Table) (*Table, error) {
	t := lookup(CanonicalName(name))
	if t == nil {
		return nil, errors.Wrapf(ErrNotFound, "table %s", name)
	}
	return t, nil
}

func (a *analysis) column(col *sqlparser.ColName) (string, error) {
	name := CanonicalName(col.Name.String())
	idx := a.table.ColumnIndex(name)
	if idx < 0 {
		return "", errors.Wrapf(ErrUnknownColumn, "%s.%s", a.table.Name, name)
	}
	return name, nil
}

func (a *analysis) columnType(name string) types.T {
	return a.table.Columns[a.table.ColumnIndex(name)].Type
}

func (a *analysis) bindParam(node sqlparser.Expr, t types.T) {
	if idx, ok := ParamIndex(node); ok && a.paramTypes[idx] == types.T_invalid {
		a.paramTypes[idx] = t
	}
}

// collectColumns adds every column named under node to set.
func (a *analysis) collectColumns(set columnSet, nodes ...sqlparser.SQLNode) error {
	for _, node := range nodes {
		if node == nil {
			continue
		}
		err := sqlparser.Walk(func(n sqlparser.SQLNode) (bool, error) {
			if col, ok := n.(*sqlparser.ColName); ok {
				name, err := a.column(col)
				if err != nil {
					return false, err
				}
				set.add(name)
			}
			return true, nil
		}, node)
		if err != nil {
			return err
		}
	}
	return nil
}

// inferExpr binds parameter types from the columns they are compared with
// or combined with.
func (a *analysis) inferExpr(expr sqlparser.Expr) error {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		if err := a.inferExpr(e.Left); err != nil {
			return err
		}
		return a.inferExpr(e.Right)
	case *sqlparser.OrExpr:
		if err := a.inferExpr(e.Left); err != nil {
			return err
		}
		return a.inferExpr(e.Right)
	case *sqlparser.NotExpr:
		return a.inferExpr(e.Expr)
	case *sqlparser.ParenExpr:
		return a.inferExpr(e.Expr)
	case *sqlparser.ComparisonExpr:
		return a.inferPair(e.Left, e.Right)
	case *sqlparser.BinaryExpr:
		return a.inferPair(e.Left, e.Right)
	case *sqlparser.RangeCond:
		if err := a.inferPair(e.Left, e.From); err != nil {
			return err
		}
		return a.inferPair(e.Left, e.To)
	}
	return nil
}

func (a *analysis) inferPair(left, right sqlparser.Expr) error {
	if col, ok := left.(*sqlparser.ColName); ok {
		return a.inferAgainst(col, right)
	}
	if col, ok := right.(*sqlparser.ColName); ok {
		return a.inferAgainst(col, left)
	}
	if err := a.inferExpr(left); err != nil {
		return err
	}
	return a.inferExpr(right)
}

func (a *analysis) inferAgainst(col *sqlparser.ColName, other sqlparser.Expr) error {
	name, err := a.column(col)
	if err != nil {
		return err
	}
	t := a.columnType(name)
	if tuple, ok := other.(sqlparser.ValTuple); ok {
		for _, e := range tuple {
			a.bindParam(e, t)
		}
		return nil
	}
	a.bindParam(other, t)
	return a.inferExpr(other)
}

// findKey looks for "<partition column> = ?" or a literal among the top level
// conjuncts of a WHERE clause.
func (a *analysis) findKey(expr sqlparser.Expr) {
	if a.table.IsReplicated() || expr == nil {
		return
	}
	switch e := expr.(type) {
	case *sqlparser.ParenExpr:
		a.findKey(e.Expr)
	case *sqlparser.AndExpr:
		a.findKey(e.Left)
		if !a.keyed {
			a.findKey(e.Right)
		}
	case *sqlparser.ComparisonExpr:
		if e.Operator != sqlparser.EqualStr {
			return
		}
		col, other := e.Left, e.Right
		if _, ok := col.(*sqlparser.ColName); !ok {
			col, other = e.Right, e.Left
		}
		c, ok := col.(*sqlparser.ColName)
		if !ok || a.table.ColumnIndex(c.Name.String()) != a.table.PartitionColumn {
			return
		}
		a.keyValue(other)
	}
}

func (a *analysis) keyValue(expr sqlparser.Expr) {
	if idx, ok := ParamIndex(expr); ok {
		a.keyed = true
		a.partitionParam = idx
		return
	}
	if val, ok := expr.(*sqlparser.SQLVal); ok {
		if v, ok := LiteralValue(val); ok {
			a.keyed = true
			a.partitionLiteral = v
		}
	}
}

func (a *analysis) analyzeSelect(stmt *sqlparser.Select, lookup func(string) *Table) (err error) {
	a.typ = QuerySelect
	if stmt.Distinct != "" || len(stmt.GroupBy) > 0 || stmt.Having != nil {
		return errors.Wrap(ErrUnsupportedSQL, "DISTINCT, GROUP BY and HAVING are not supported")
	}
	if a.table, err = singleTable(stmt.From, lookup); err != nil {
		return
	}
	for _, se := range stmt.SelectExprs {
		switch e := se.(type) {
		case *sqlparser.StarExpr:
			a.output.add(a.table.ColumnNames()...)
		case *sqlparser.AliasedExpr:
			switch inner := e.Expr.(type) {
			case *sqlparser.ColName:
				if err = a.collectColumns(a.output, inner); err != nil {
					return
				}
			case *sqlparser.FuncExpr:
				if !isAggregate(inner.Name.Lowered()) {
					return errors.Wrapf(ErrUnsupportedSQL, "function %s", inner.Name.String())
				}
				if err = a.collectColumns(a.referenced, inner.Exprs); err != nil {
					return
				}
			default:
				return errors.Wrapf(ErrUnsupportedSQL, "select expression %s", sqlparser.String(e))
			}
		default:
			return errors.Wrapf(ErrUnsupportedSQL, "select expression %s", sqlparser.String(se))
		}
	}
	if stmt.Where != nil {
		if err = a.collectColumns(a.referenced, stmt.Where.Expr); err != nil {
			return
		}
		if err = a.inferExpr(stmt.Where.Expr); err != nil {
			return
		}
		a.findKey(stmt.Where.Expr)
	}
	if err = a.collectColumns(a.referenced, stmt.OrderBy); err != nil {
		return
	}
	if stmt.Limit != nil {
		a.bindParam(stmt.Limit.Rowcount, types.T_bigint)
		a.bindParam(stmt.Limit.Offset, types.T_bigint)
	}
	return nil
}

func isAggregate(name string) bool {
	switch name {
	case "count", "sum", "min", "max":
		return true
	}
	return false
}

func (a *analysis) analyzeInsert(stmt *sqlparser.Insert, lookup func(string) *Table) (err error) {
	a.typ = QueryInsert
	if stmt.Action != sqlparser.InsertStr || len(stmt.OnDup) > 0 {
		return errors.Wrap(ErrUnsupportedSQL, "only plain INSERT is supported")
	}
	if a.table, err = tableByName(stmt.Table.Name.String(), lookup); err != nil {
		return
	}
	rows, ok := stmt.Rows.(sqlparser.Values)
	if !ok || len(rows) != 1 {
		return errors.Wrap(ErrUnsupportedSQL, "INSERT needs exactly one VALUES tuple")
	}
	cols := a.table.ColumnNames()
	if len(stmt.Columns) > 0 {
		cols = make([]string, len(stmt.Columns))
		for i, c := range stmt.Columns {
			cols[i] = CanonicalName(c.String())
			if a.table.ColumnIndex(cols[i]) < 0 {
				return errors.Wrapf(ErrUnknownColumn, "%s.%s", a.table.Name, cols[i])
			}
		}
	}
	if len(cols) != len(rows[0]) {
		return errors.Wrapf(ErrUnsupportedSQL, "%d columns, %d values", len(cols), len(rows[0]))
	}
	for i, val := range rows[0] {
		a.bindParam(val, a.columnType(cols[i]))
		if !a.table.IsReplicated() && a.table.ColumnIndex(cols[i]) == a.table.PartitionColumn {
			a.keyValue(val)
		}
	}
	a.referenced.add(a.table.ColumnNames()...)
	a.modified.add(a.table.ColumnNames()...)
	if !a.table.IsReplicated() && !a.keyed {
		return errors.Wrapf(ErrBadPartitionParam, "INSERT into %s has no value for the partition column", a.table.Name)
	}
	return nil
}

func (a *analysis) analyzeUpdate(stmt *sqlparser.Update, lookup func(string) *Table) (err error) {
	a.typ = QueryUpdate
	if a.table, err = singleTable(stmt.TableExprs, lookup); err != nil {
		return
	}
	for _, ue := range stmt.Exprs {
		var name string
		if name, err = a.column(ue.Name); err != nil {
			return
		}
		if a.table.ColumnIndex(name) == a.table.PartitionColumn {
			return errors.Wrapf(ErrUnsupportedSQL, "cannot update partition column %s.%s", a.table.Name, name)
		}
		a.modified.add(name)
		a.referenced.add(name)
		if err = a.collectColumns(a.referenced, ue.Expr); err != nil {
			return
		}
		a.bindParam(ue.Expr, a.columnType(name))
		if err = a.inferExpr(ue.Expr); err != nil {
			return
		}
	}
	if stmt.Where != nil {
		if err = a.collectColumns(a.referenced, stmt.Where.Expr); err != nil {
			return
		}
		if err = a.inferExpr(stmt.Where.Expr); err != nil {
			return
		}
		a.findKey(stmt.Where.Expr)
	}
	return nil
}

func (a *analysis) analyzeDelete(stmt *sqlparser.Delete, lookup func(string) *Table) (err error) {
	a.typ = QueryDelete
	if len(stmt.Targets) > 0 {
		return errors.Wrap(ErrUnsupportedSQL, "multi-table DELETE")
	}
	if a.table, err = singleTable(stmt.TableExprs, lookup); err != nil {
		return
	}
	if stmt.Where != nil {
		if err = a.collectColumns(a.referenced, stmt.Where.Expr); err != nil {
			return
		}
		if err = a.inferExpr(stmt.Where.Expr); err != nil {
			return
		}
		a.findKey(stmt.Where.Expr)
	}
	a.modified.add(a.table.ColumnNames()...)
	return nil
}

func (a *analysis) checkTypes() error {
	for i, t := range a.paramTypes {
		if t == types.T_invalid {
			return errors.Wrapf(ErrUntypedParam, "parameter %d", i)
		}
	}
	return nil
}

// route decides how the statement's target partitions are found.
func (a *analysis) route() RouteKind {
	if a.table.IsReplicated() {
		if a.typ.IsWrite() {
			return RouteAll
		}
		return RouteBase
	}
	if a.keyed {
		return RouteKeyed
	}
	return RouteAll
}
