package types

import (
	"math"

	"github.com/pkg/errors"
)

// The storage format has no native null for these types, so SQL NULL is
// encoded as a reserved in-domain value.
const (
	NullTinyInt   int8      = math.MinInt8
	NullSmallInt  int16     = math.MinInt16
	NullInteger   int32     = math.MinInt32
	NullBigInt    int64     = math.MinInt64
	NullFloat     float64   = -1.7976931348623157e+308
	NullTimestamp Timestamp = math.MinInt64
)

type nullMarker struct {
	t T
}

func (m nullMarker) String() string { return "NULL" }

var (
	// NullString is the reserved VARCHAR null. It is not a Go string so that
	// no client supplied string can collide with it.
	NullString interface{} = nullMarker{t: T_varchar}

	NullDecimal = MustParseDecimal("-99999999999999999999999999999.999999999999")
)

// CanonicalNull returns the NULL sentinel statements see for a parameter of
// type t.
func CanonicalNull(t T) (interface{}, error) {
	switch t {
	case T_tinyint:
		return NullTinyInt, nil
	case T_smallint:
		return NullSmallInt, nil
	case T_int:
		return NullInteger, nil
	case T_bigint:
		return NullBigInt, nil
	case T_float:
		return NullFloat, nil
	case T_timestamp:
		return NullTimestamp, nil
	case T_varchar:
		return NullString, nil
	case T_decimal:
		return NullDecimal, nil
	}
	return nil, errors.Wrapf(ErrNoNull, "%s", t)
}

// IsNull reports whether v is nil or one of the NULL sentinels.
func IsNull(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case nullMarker:
		return true
	case int8:
		return x == NullTinyInt
	case int16:
		return x == NullSmallInt
	case int32:
		return x == NullInteger
	case int64:
		return x == NullBigInt
	case float64:
		return x == NullFloat
	case Timestamp:
		return x == NullTimestamp
	case Decimal:
		return x.Cmp(NullDecimal) == 0
	case []byte:
		return x == nil
	case *Table:
		return x == nil
	}
	return false
}

// IsNullMarker reports whether v is a reference NULL passed by a client,
// i.e. nil or one of the non-numeric sentinels.
func IsNullMarker(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case nullMarker:
		return true
	case Decimal:
		return x.Cmp(NullDecimal) == 0
	}
	return false
}

// NullMarkerFits reports whether the null marker v may stand for a NULL of
// type t. A nil fits every type.
func NullMarkerFits(v interface{}, t T) bool {
	switch x := v.(type) {
	case nil:
		return true
	case nullMarker:
		return x.t == t
	case Decimal:
		return t == T_decimal && x.Cmp(NullDecimal) == 0
	}
	return false
}
