package types

import (
	"math"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalNull(t *testing.T) {
	declared := []T{T_tinyint, T_smallint, T_int, T_bigint, T_float, T_timestamp, T_varchar, T_decimal}
	for _, typ := range declared {
		v1, err := CanonicalNull(typ)
		assert.Nil(t, err, typ.String())
		v2, _ := CanonicalNull(typ)
		assert.Equal(t, TypeOf(v1), typ)
		assert.True(t, IsNull(v1), typ.String())
		if typ == T_decimal {
			assert.Equal(t, 0, v1.(Decimal).Cmp(v2.(Decimal)))
		} else {
			assert.Equal(t, v1, v2)
		}
	}
	_, err := CanonicalNull(T_varbinary)
	assert.Equal(t, ErrNoNull, errors.Cause(err))
	_, err = CanonicalNull(T_table)
	assert.Equal(t, ErrNoNull, errors.Cause(err))

	v, _ := CanonicalNull(T_bigint)
	assert.Equal(t, int64(math.MinInt64), v)
	v, _ = CanonicalNull(T_float)
	assert.Equal(t, -math.MaxFloat64, v)
	assert.False(t, IsNull(int64(0)))
	assert.False(t, IsNull("NULL"))
}

func TestDecimal(t *testing.T) {
	d := MustParseDecimal("12.5")
	assert.Equal(t, "12.500000000000", d.String())
	assert.Equal(t, "0.000000000000", MustParseDecimal("0.0000000000005").String())
	assert.Equal(t, "0.000000000002", MustParseDecimal("0.0000000000015").String())
	assert.Equal(t, "-3.000000000000", NewDecimalFromInt(-3).String())
	assert.Equal(t, 0, d.Add(NewDecimalFromInt(1)).Cmp(MustParseDecimal("13.5")))
	assert.Equal(t, -1, d.Sub(NewDecimalFromInt(20)).Cmp(Decimal{}))
	_, err := ParseDecimal("abc")
	assert.Equal(t, ErrInvalidDecimal, errors.Cause(err))
	assert.Equal(t, "-99999999999999999999999999999.999999999999", NullDecimal.String())
	u := MustParseDecimal("-1.5").Unscaled()
	assert.Equal(t, "-1500000000000", u.String())
	assert.Equal(t, 0, DecimalFromUnscaled(u).Cmp(MustParseDecimal("-1.5")))
	assert.True(t, IsNull(NullDecimal))
	assert.True(t, IsNullMarker(NullDecimal))
}

func TestTimestamp(t *testing.T) {
	now := time.Date(2021, 3, 4, 5, 6, 7, 8000, time.UTC)
	ts := TimestampFromTime(now)
	assert.True(t, ts.Time().Equal(now))
	assert.Equal(t, "2021-03-04 05:06:07.000008", ts.String())
	assert.Equal(t, "NULL", NullTimestamp.String())
}

func TestParseT(t *testing.T) {
	typ, err := ParseT("integer")
	assert.Nil(t, err)
	assert.Equal(t, T_int, typ)
	typ, _ = ParseT(" VARCHAR ")
	assert.Equal(t, T_varchar, typ)
	_, err = ParseT("blob")
	assert.Equal(t, ErrUnknownType, errors.Cause(err))
	assert.True(t, T_smallint.IsIntegral())
	assert.False(t, T_float.IsIntegral())
	assert.True(t, T_float.IsPrimitive())
	assert.False(t, Param(T_bigint).Nullable)
	assert.True(t, Param(T_varchar).Nullable)
	assert.Equal(t, "BIGINT[]", ArrayParam(T_bigint).String())
	assert.Equal(t, "INTEGER NOT NULL", Param(T_int).String())
}

func TestTable(t *testing.T) {
	tbl := NewTable(
		Column{Name: "id", Type: T_bigint},
		Column{Name: "name", Type: T_varchar},
		Column{Name: "balance", Type: T_decimal},
		Column{Name: "ts", Type: T_timestamp},
		Column{Name: "raw", Type: T_varbinary},
		Column{Name: "rate", Type: T_float},
		Column{Name: "flag", Type: T_tinyint},
	)
	assert.Nil(t, tbl.AddRow(int64(1), "alice", MustParseDecimal("10.25"), Timestamp(1000), []byte{1, 2}, 0.5, int8(1)))
	assert.Nil(t, tbl.AddRow(int64(2), NullString, NullDecimal, NullTimestamp, []byte{}, 1.5, int8(0)))
	assert.Equal(t, ErrRowArity, errors.Cause(tbl.AddRow(int64(3))))
	assert.Equal(t, ErrColumnType, errors.Cause(tbl.AddRow("x", "bob", NullDecimal, NullTimestamp, []byte{}, 1.5, int8(0))))
	assert.Equal(t, 2, tbl.RowCount())
	assert.Equal(t, 2, tbl.ColumnIndex("BALANCE"))
	assert.Equal(t, -1, tbl.ColumnIndex("missing"))

	buf, err := tbl.Marshal()
	assert.Nil(t, err)
	tbl2 := new(Table)
	assert.Nil(t, tbl2.Unmarshal(buf))
	assert.Equal(t, tbl.Columns, tbl2.Columns)
	assert.Equal(t, 2, tbl2.RowCount())
	assert.Equal(t, "alice", tbl2.Rows[0][1])
	assert.Equal(t, 0, tbl2.Rows[0][2].(Decimal).Cmp(MustParseDecimal("10.25")))
	assert.Equal(t, Timestamp(1000), tbl2.Rows[0][3])
	assert.Equal(t, []byte{1, 2}, tbl2.Rows[0][4])
	assert.Equal(t, int8(1), tbl2.Rows[0][6])
	assert.True(t, IsNull(tbl2.Rows[1][1]))
	assert.True(t, IsNull(tbl2.Rows[1][2]))
	assert.True(t, IsNull(tbl2.Rows[1][3]))
}

func TestScalarTable(t *testing.T) {
	tbl := NewScalarTable(7)
	v, err := tbl.AsScalarLong()
	assert.Nil(t, err)
	assert.Equal(t, int64(7), v)
	assert.Nil(t, tbl.Append(NewScalarTable(8)))
	_, err = tbl.AsScalarLong()
	assert.Equal(t, ErrNotScalar, errors.Cause(err))
	assert.Equal(t, ErrRowArity, errors.Cause(tbl.Append(NewTable())))
}
