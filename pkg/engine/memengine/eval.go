package memengine

import (
	"fmt"

	"ptxn/pkg/catalog"
	"ptxn/pkg/types"

	"github.com/xwb1989/sqlparser"
)

type truth int8

const (
	truthFalse truth = iota
	truthTrue
	truthUnknown
)

func (t truth) and(o truth) truth {
	if t == truthFalse || o == truthFalse {
		return truthFalse
	}
	if t == truthUnknown || o == truthUnknown {
		return truthUnknown
	}
	return truthTrue
}

func (t truth) or(o truth) truth {
	if t == truthTrue || o == truthTrue {
		return truthTrue
	}
	if t == truthUnknown || o == truthUnknown {
		return truthUnknown
	}
	return truthFalse
}

func (t truth) not() truth {
	switch t {
	case truthTrue:
		return truthFalse
	case truthFalse:
		return truthTrue
	}
	return truthUnknown
}

func truthOf(b bool) truth {
	if b {
		return truthTrue
	}
	return truthFalse
}

// evaluator evaluates expressions of one statement against one row.
type evaluator struct {
	table  *catalog.Table
	params []interface{}
	row    []interface{}
}

func (ev *evaluator) eval(expr sqlparser.Expr) (interface{}, error) {
	switch e := expr.(type) {
	case *sqlparser.SQLVal:
		if idx, ok := catalog.ParamIndex(e); ok {
			if idx >= len(ev.params) {
				return nil, fmt.Errorf("parameter %d of %d is not bound", idx, len(ev.params))
			}
			return ev.params[idx], nil
		}
		if v, ok := catalog.LiteralValue(e); ok {
			return v, nil
		}
		return nil, fmt.Errorf("unsupported literal %s", sqlparser.String(e))
	case *sqlparser.NullVal:
		return nil, nil
	case *sqlparser.ColName:
		idx := ev.table.ColumnIndex(e.Name.String())
		if idx < 0 {
			return nil, fmt.Errorf("unknown column %s", e.Name.String())
		}
		if ev.row == nil {
			return nil, fmt.Errorf("column %s used without a row", e.Name.String())
		}
		return ev.row[idx], nil
	case *sqlparser.ParenExpr:
		return ev.eval(e.Expr)
	case *sqlparser.UnaryExpr:
		v, err := ev.eval(e.Expr)
		if err != nil {
			return nil, err
		}
		if e.Operator != sqlparser.UMinusStr {
			return nil, fmt.Errorf("unsupported operator %s", e.Operator)
		}
		return arith("-", int64(0), v)
	case *sqlparser.BinaryExpr:
		l, err := ev.eval(e.Left)
		if err != nil {
			return nil, err
		}
		r, err := ev.eval(e.Right)
		if err != nil {
			return nil, err
		}
		return arith(e.Operator, l, r)
	}
	return nil, fmt.Errorf("unsupported expression %s", sqlparser.String(expr))
}

// test evaluates a predicate with SQL three valued logic.
func (ev *evaluator) test(expr sqlparser.Expr) (truth, error) {
	switch e := expr.(type) {
	case *sqlparser.AndExpr:
		l, err := ev.test(e.Left)
		if err != nil {
			return truthUnknown, err
		}
		r, err := ev.test(e.Right)
		if err != nil {
			return truthUnknown, err
		}
		return l.and(r), nil
	case *sqlparser.OrExpr:
		l, err := ev.test(e.Left)
		if err != nil {
			return truthUnknown, err
		}
		r, err := ev.test(e.Right)
		if err != nil {
			return truthUnknown, err
		}
		return l.or(r), nil
	case *sqlparser.NotExpr:
		t, err := ev.test(e.Expr)
		return t.not(), err
	case *sqlparser.ParenExpr:
		return ev.test(e.Expr)
	case *sqlparser.IsExpr:
		v, err := ev.eval(e.Expr)
		if err != nil {
			return truthUnknown, err
		}
		switch e.Operator {
		case sqlparser.IsNullStr:
			return truthOf(types.IsNull(v)), nil
		case sqlparser.IsNotNullStr:
			return truthOf(!types.IsNull(v)), nil
		}
	case *sqlparser.RangeCond:
		v, err := ev.eval(e.Left)
		if err != nil {
			return truthUnknown, err
		}
		from, err := ev.eval(e.From)
		if err != nil {
			return truthUnknown, err
		}
		to, err := ev.eval(e.To)
		if err != nil {
			return truthUnknown, err
		}
		lo, ok1 := compareValues(v, from)
		hi, ok2 := compareValues(v, to)
		if !ok1 || !ok2 {
			return truthUnknown, nil
		}
		in := truthOf(lo >= 0 && hi <= 0)
		if e.Operator == sqlparser.NotBetweenStr {
			return in.not(), nil
		}
		return in, nil
	case *sqlparser.ComparisonExpr:
		return ev.compare(e)
	}
	return truthUnknown, fmt.Errorf("unsupported predicate %s", sqlparser.String(expr))
}

func (ev *evaluator) compare(e *sqlparser.ComparisonExpr) (truth, error) {
	l, err := ev.eval(e.Left)
	if err != nil {
		return truthUnknown, err
	}
	if e.Operator == sqlparser.InStr || e.Operator == sqlparser.NotInStr {
		tuple, ok := e.Right.(sqlparser.ValTuple)
		if !ok {
			return truthUnknown, fmt.Errorf("unsupported IN list %s", sqlparser.String(e.Right))
		}
		result := truthFalse
		for _, item := range tuple {
			v, err := ev.eval(item)
			if err != nil {
				return truthUnknown, err
			}
			c, ok := compareValues(l, v)
			if !ok {
				result = result.or(truthUnknown)
				continue
			}
			result = result.or(truthOf(c == 0))
		}
		if e.Operator == sqlparser.NotInStr {
			return result.not(), nil
		}
		return result, nil
	}
	r, err := ev.eval(e.Right)
	if err != nil {
		return truthUnknown, err
	}
	if e.Operator == sqlparser.NullSafeEqualStr {
		ln, rn := types.IsNull(l), types.IsNull(r)
		if ln || rn {
			return truthOf(ln && rn), nil
		}
	}
	c, ok := compareValues(l, r)
	if !ok {
		return truthUnknown, nil
	}
	switch e.Operator {
	case sqlparser.EqualStr, sqlparser.NullSafeEqualStr:
		return truthOf(c == 0), nil
	case sqlparser.NotEqualStr:
		return truthOf(c != 0), nil
	case sqlparser.LessThanStr:
		return truthOf(c < 0), nil
	case sqlparser.LessEqualStr:
		return truthOf(c <= 0), nil
	case sqlparser.GreaterThanStr:
		return truthOf(c > 0), nil
	case sqlparser.GreaterEqualStr:
		return truthOf(c >= 0), nil
	}
	return truthUnknown, fmt.Errorf("unsupported operator %s", e.Operator)
}

// matches reports whether row satisfies where. A nil where matches all.
func (ev *evaluator) matches(where *sqlparser.Where, row []interface{}) (bool, error) {
	if where == nil {
		return true, nil
	}
	ev.row = row
	t, err := ev.test(where.Expr)
	return t == truthTrue, err
}

// limitValue evaluates a LIMIT or OFFSET clause, -1 meaning none.
func (ev *evaluator) limitValue(expr sqlparser.Expr) (int64, error) {
	if expr == nil {
		return -1, nil
	}
	v, err := ev.eval(expr)
	if err != nil {
		return 0, err
	}
	n, ok := normalize(v).(int64)
	if !ok || n < 0 || types.IsNull(v) {
		return 0, fmt.Errorf("invalid limit %v", v)
	}
	return n, nil
}
