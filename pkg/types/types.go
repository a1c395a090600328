package types

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// T is the type of a column, statement parameter or procedure parameter.
type T int8

const (
	T_invalid T = iota
	T_tinyint
	T_smallint
	T_int
	T_bigint
	T_float
	T_timestamp
	T_varchar
	T_decimal
	T_varbinary
	T_table
)

var typeNames = map[T]string{
	T_invalid:   "INVALID",
	T_tinyint:   "TINYINT",
	T_smallint:  "SMALLINT",
	T_int:       "INTEGER",
	T_bigint:    "BIGINT",
	T_float:     "FLOAT",
	T_timestamp: "TIMESTAMP",
	T_varchar:   "VARCHAR",
	T_decimal:   "DECIMAL",
	T_varbinary: "VARBINARY",
	T_table:     "TABLE",
}

func (t T) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("T(%d)", int8(t))
}

// IsIntegral reports whether t is one of the fixed width integer types.
func (t T) IsIntegral() bool {
	return t >= T_tinyint && t <= T_bigint
}

// IsPrimitive reports whether values of t are plain Go scalars that have no
// nil representation.
func (t T) IsPrimitive() bool {
	return t >= T_tinyint && t <= T_float
}

// ParseT maps a SQL column type name to T.
func ParseT(name string) (T, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TINYINT":
		return T_tinyint, nil
	case "SMALLINT":
		return T_smallint, nil
	case "INT", "INTEGER":
		return T_int, nil
	case "BIGINT":
		return T_bigint, nil
	case "FLOAT", "DOUBLE":
		return T_float, nil
	case "TIMESTAMP":
		return T_timestamp, nil
	case "VARCHAR", "STRING", "TEXT":
		return T_varchar, nil
	case "DECIMAL":
		return T_decimal, nil
	case "VARBINARY":
		return T_varbinary, nil
	}
	return T_invalid, errors.Wrapf(ErrUnknownType, "%q", name)
}

// ParamType describes one declared procedure parameter slot.
type ParamType struct {
	Type T
	// Array slots take a Go slice of the element representation.
	Array bool
	// Nullable marks a boxed slot; primitive slots reject nil.
	Nullable bool
}

func Param(t T) ParamType {
	return ParamType{Type: t, Nullable: !t.IsPrimitive()}
}

func NullableParam(t T) ParamType {
	return ParamType{Type: t, Nullable: true}
}

func ArrayParam(t T) ParamType {
	return ParamType{Type: t, Array: true, Nullable: true}
}

func (p ParamType) String() string {
	s := p.Type.String()
	if p.Array {
		s += "[]"
	}
	if !p.Nullable {
		s += " NOT NULL"
	}
	return s
}

// TypeOf returns the T whose Go representation v has.
func TypeOf(v interface{}) T {
	switch v.(type) {
	case int8:
		return T_tinyint
	case int16:
		return T_smallint
	case int32:
		return T_int
	case int64, int:
		return T_bigint
	case float64, float32:
		return T_float
	case Timestamp:
		return T_timestamp
	case string, nullMarker:
		return T_varchar
	case Decimal:
		return T_decimal
	case []byte:
		return T_varbinary
	case *Table:
		return T_table
	}
	return T_invalid
}
