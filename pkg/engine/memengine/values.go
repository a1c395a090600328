package memengine

import (
	"bytes"
	"fmt"
	"math"

	"ptxn/pkg/types"
)

// normalize widens integers to int64 so that values of different widths
// compare and combine.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int:
		return int64(x)
	case types.Timestamp:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// compareValues orders two non null values. ok is false for NULL or
// incomparable values.
func compareValues(a, b interface{}) (c int, ok bool) {
	if types.IsNull(a) || types.IsNull(b) {
		return 0, false
	}
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmpInt(x, y), true
		case float64:
			return cmpFloat(float64(x), y), true
		case types.Decimal:
			return types.NewDecimalFromInt(x).Cmp(y), true
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return cmpFloat(x, float64(y)), true
		case float64:
			return cmpFloat(x, y), true
		}
	case types.Decimal:
		switch y := b.(type) {
		case int64:
			return x.Cmp(types.NewDecimalFromInt(y)), true
		case types.Decimal:
			return x.Cmp(y), true
		}
	case string:
		if y, isStr := b.(string); isStr {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
	case []byte:
		if y, isBytes := b.([]byte); isBytes {
			return bytes.Compare(x, y), true
		}
	}
	return 0, false
}

func cmpInt(x, y int64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func cmpFloat(x, y float64) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// sortCompare puts NULL first and falls back to the type name for values
// that do not compare.
func sortCompare(a, b interface{}) int {
	an, bn := types.IsNull(a), types.IsNull(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	if c, ok := compareValues(a, b); ok {
		return c
	}
	return cmpString(fmt.Sprintf("%T", a), fmt.Sprintf("%T", b))
}

func cmpString(x, y string) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func arith(op string, a, b interface{}) (interface{}, error) {
	if types.IsNull(a) || types.IsNull(b) {
		return nil, nil
	}
	a, b = normalize(a), normalize(b)
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return arithInt(op, x, y)
		case float64:
			return arithFloat(op, float64(x), y)
		case types.Decimal:
			return arithDecimal(op, types.NewDecimalFromInt(x), y)
		}
	case float64:
		switch y := b.(type) {
		case int64:
			return arithFloat(op, x, float64(y))
		case float64:
			return arithFloat(op, x, y)
		}
	case types.Decimal:
		switch y := b.(type) {
		case int64:
			return arithDecimal(op, x, types.NewDecimalFromInt(y))
		case types.Decimal:
			return arithDecimal(op, x, y)
		}
	}
	return nil, fmt.Errorf("cannot apply %s to %T and %T", op, a, b)
}

func arithInt(op string, x, y int64) (interface{}, error) {
	var r int64
	switch op {
	case "+":
		r = x + y
		if (y > 0 && r < x) || (y < 0 && r > x) {
			return nil, fmt.Errorf("overflow in %d + %d", x, y)
		}
	case "-":
		r = x - y
		if (y < 0 && r < x) || (y > 0 && r > x) {
			return nil, fmt.Errorf("overflow in %d - %d", x, y)
		}
	case "*":
		r = x * y
		if x != 0 && (r/x != y || (x == -1 && y == math.MinInt64)) {
			return nil, fmt.Errorf("overflow in %d * %d", x, y)
		}
	case "/", "%":
		if y == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		if op == "/" {
			r = x / y
		} else {
			r = x % y
		}
	default:
		return nil, fmt.Errorf("unsupported operator %s", op)
	}
	// the result must not collide with the NULL sentinel
	if r == types.NullBigInt {
		return nil, fmt.Errorf("overflow in %d %s %d", x, op, y)
	}
	return r, nil
}

func arithFloat(op string, x, y float64) (interface{}, error) {
	switch op {
	case "+":
		return x + y, nil
	case "-":
		return x - y, nil
	case "*":
		return x * y, nil
	case "/":
		if y == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return x / y, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", op)
}

func arithDecimal(op string, x, y types.Decimal) (interface{}, error) {
	switch op {
	case "+":
		return x.Add(y), nil
	case "-":
		return x.Sub(y), nil
	}
	return nil, fmt.Errorf("unsupported decimal operator %s", op)
}

// castTo converts v into the representation of a column of type t. NULL
// becomes the column's NULL sentinel.
func castTo(t types.T, v interface{}) (interface{}, error) {
	if types.IsNull(v) {
		if t == types.T_varbinary {
			return []byte(nil), nil
		}
		return types.CanonicalNull(t)
	}
	n := normalize(v)
	switch t {
	case types.T_tinyint, types.T_smallint, types.T_int, types.T_bigint:
		i, ok := n.(int64)
		if !ok {
			break
		}
		switch t {
		case types.T_tinyint:
			if i <= math.MinInt8 || i > math.MaxInt8 {
				return nil, fmt.Errorf("%d out of range for %s", i, t)
			}
			return int8(i), nil
		case types.T_smallint:
			if i <= math.MinInt16 || i > math.MaxInt16 {
				return nil, fmt.Errorf("%d out of range for %s", i, t)
			}
			return int16(i), nil
		case types.T_int:
			if i <= math.MinInt32 || i > math.MaxInt32 {
				return nil, fmt.Errorf("%d out of range for %s", i, t)
			}
			return int32(i), nil
		}
		return i, nil
	case types.T_float:
		switch x := n.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		}
	case types.T_timestamp:
		switch x := v.(type) {
		case types.Timestamp:
			return x, nil
		case int64:
			return types.Timestamp(x), nil
		}
	case types.T_varchar:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case types.T_decimal:
		switch x := n.(type) {
		case types.Decimal:
			return x, nil
		case int64:
			return types.NewDecimalFromInt(x), nil
		case string:
			return types.ParseDecimal(x)
		}
	case types.T_varbinary:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	}
	return nil, fmt.Errorf("cannot store %T in a %s column", v, t)
}
