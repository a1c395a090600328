package procedure

import (
	"time"

	"ptxn/pkg/catalog"
	"ptxn/pkg/types"

	"github.com/pkg/errors"
)

// CoerceParams binds client arguments to the declared parameter slots of a
// procedure. The result can be passed to CoerceParams again unchanged.
func CoerceParams(proc string, params []types.ParamType, args []interface{}) ([]interface{}, error) {
	if len(args) != len(params) {
		return nil, errors.Wrapf(ErrParamCount, "PROCEDURE %s EXPECTS %d PARAMS, BUT RECEIVED %d",
			proc, len(params), len(args))
	}
	coerced := make([]interface{}, len(args))
	for i, arg := range args {
		v, err := CoerceParam(params[i], arg)
		if err != nil {
			return nil, errors.WithMessagef(err, "PROCEDURE %s PARAMETER %d", proc, i)
		}
		coerced[i] = v
	}
	return coerced, nil
}

// CoerceParam converts arg to the exact representation of slot. Integers
// only widen, floats only go to float slots and everything else must match.
// Any NULL bound to a nullable slot comes out as nil.
func CoerceParam(slot types.ParamType, arg interface{}) (interface{}, error) {
	if types.IsNullMarker(arg) {
		if !slot.Nullable {
			return nil, errors.Wrapf(ErrNullToPrimitive, "slot %s", slot)
		}
		if !types.NullMarkerFits(arg, slot.Type) {
			return nil, errors.Wrapf(ErrParamType, "%v of %T passed to slot %s", arg, arg, slot)
		}
		return nil, nil
	}
	if slot.Array {
		return coerceArray(slot.Type, arg)
	}
	if isArray(arg) {
		return nil, errors.Wrapf(ErrArrayMismatch, "%T passed to scalar slot %s", arg, slot)
	}
	switch slot.Type {
	case types.T_tinyint, types.T_smallint, types.T_int, types.T_bigint:
		return coerceIntegral(slot.Type, arg)
	case types.T_float:
		switch v := arg.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		}
	case types.T_timestamp:
		switch v := arg.(type) {
		case types.Timestamp:
			return v, nil
		case int64:
			return types.Timestamp(v), nil
		case time.Time:
			return types.TimestampFromTime(v), nil
		}
	case types.T_varchar:
		if v, ok := arg.(string); ok {
			return v, nil
		}
	case types.T_decimal:
		switch v := arg.(type) {
		case types.Decimal:
			return v, nil
		case int64:
			return types.NewDecimalFromInt(v), nil
		}
	case types.T_varbinary:
		if v, ok := arg.([]byte); ok {
			return v, nil
		}
	case types.T_table:
		if v, ok := arg.(*types.Table); ok {
			return v, nil
		}
	}
	return nil, errors.Wrapf(ErrParamType, "%T passed to slot %s", arg, slot)
}

func intRank(t types.T) int {
	switch t {
	case types.T_tinyint:
		return 1
	case types.T_smallint:
		return 2
	case types.T_int:
		return 3
	case types.T_bigint:
		return 4
	}
	return 0
}

func coerceIntegral(t types.T, arg interface{}) (interface{}, error) {
	var v int64
	var from types.T
	switch x := arg.(type) {
	case int8:
		v, from = int64(x), types.T_tinyint
	case int16:
		v, from = int64(x), types.T_smallint
	case int32:
		v, from = int64(x), types.T_int
	case int64:
		v, from = x, types.T_bigint
	case int:
		v, from = int64(x), types.T_bigint
	default:
		return nil, errors.Wrapf(ErrParamType, "%T passed to slot %s", arg, t)
	}
	if intRank(from) > intRank(t) {
		return nil, errors.Wrapf(ErrParamType, "narrowing %s to %s", from, t)
	}
	switch t {
	case types.T_tinyint:
		return int8(v), nil
	case types.T_smallint:
		return int16(v), nil
	case types.T_int:
		return int32(v), nil
	}
	return v, nil
}

func isArray(arg interface{}) bool {
	switch arg.(type) {
	case []int8, []int16, []int32, []int64, []float64, []string,
		[]types.Timestamp, []types.Decimal, [][]byte, []interface{}:
		return true
	}
	return false
}

// coerceArray requires the element type to match the slot exactly.
func coerceArray(t types.T, arg interface{}) (interface{}, error) {
	ok := false
	switch arg.(type) {
	case []int8:
		ok = t == types.T_tinyint
	case []int16:
		ok = t == types.T_smallint
	case []int32:
		ok = t == types.T_int
	case []int64:
		ok = t == types.T_bigint
	case []float64:
		ok = t == types.T_float
	case []string:
		ok = t == types.T_varchar
	case []types.Timestamp:
		ok = t == types.T_timestamp
	case []types.Decimal:
		ok = t == types.T_decimal
	case [][]byte:
		ok = t == types.T_varbinary
	}
	if !ok {
		return nil, errors.Wrapf(ErrArrayMismatch, "%T passed to %s array slot", arg, t)
	}
	return arg, nil
}

// CleanStatementParams binds the arguments of one queued statement. Nulls
// become the canonical NULL sentinel of the parameter type since the storage
// format has no native null.
func CleanStatementParams(stmt *catalog.Statement, args []interface{}) ([]interface{}, error) {
	if len(args) != len(stmt.ParamTypes) {
		return nil, errors.Wrapf(ErrParamCount, "STATEMENT %s EXPECTS %d PARAMS, BUT RECEIVED %d",
			stmt.FullName(), len(stmt.ParamTypes), len(args))
	}
	cleaned := make([]interface{}, len(args))
	for i, arg := range args {
		t := stmt.ParamTypes[i]
		if types.IsNullMarker(arg) {
			if !types.NullMarkerFits(arg, t) {
				return nil, errors.Wrapf(ErrParamType, "%s parameter %d: null of %T", stmt.FullName(), i, arg)
			}
			if t == types.T_varbinary {
				cleaned[i] = nil
				continue
			}
			null, err := types.CanonicalNull(t)
			if err != nil {
				return nil, errors.Wrapf(ErrParamType, "%s parameter %d: %v", stmt.FullName(), i, err)
			}
			cleaned[i] = null
			continue
		}
		v, err := CoerceParam(types.NullableParam(t), arg)
		if err != nil {
			return nil, errors.WithMessagef(err, "%s parameter %d", stmt.FullName(), i)
		}
		cleaned[i] = v
	}
	return cleaned, nil
}
