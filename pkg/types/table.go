package types

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/big"
	"strings"

	"ptxn/pkg/common"

	"github.com/pkg/errors"
)

type Column struct {
	Name string
	Type T
}

// Table is a row oriented result table.
type Table struct {
	Columns []Column
	Rows    [][]interface{}
}

func NewTable(cols ...Column) *Table {
	return &Table{Columns: cols}
}

// NewScalarTable wraps v in a one column, one row BIGINT table.
func NewScalarTable(v int64) *Table {
	t := NewTable(Column{Name: "", Type: T_bigint})
	t.Rows = append(t.Rows, []interface{}{v})
	return t
}

func (t *Table) ColumnCount() int { return len(t.Columns) }
func (t *Table) RowCount() int    { return len(t.Rows) }

func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if strings.EqualFold(col.Name, name) {
			return i
		}
	}
	return -1
}

func (t *Table) AddRow(vals ...interface{}) error {
	if len(vals) != len(t.Columns) {
		return errors.Wrapf(ErrRowArity, "row has %d values, table has %d columns", len(vals), len(t.Columns))
	}
	for i, v := range vals {
		if IsNullMarker(v) {
			continue
		}
		if vt := TypeOf(v); vt != t.Columns[i].Type {
			return errors.Wrapf(ErrColumnType, "column %q expects %s, got %s", t.Columns[i].Name, t.Columns[i].Type, vt)
		}
	}
	t.Rows = append(t.Rows, vals)
	return nil
}

// AsScalarLong returns the single BIGINT value of a 1x1 table.
func (t *Table) AsScalarLong() (int64, error) {
	if len(t.Rows) != 1 || len(t.Columns) != 1 {
		return 0, errors.Wrapf(ErrNotScalar, "table is %dx%d", len(t.Rows), len(t.Columns))
	}
	v, ok := t.Rows[0][0].(int64)
	if !ok {
		return 0, errors.Wrapf(ErrNotScalar, "scalar is %T, not BIGINT", t.Rows[0][0])
	}
	return v, nil
}

// Append adds all rows of o, which must have the same column count.
func (t *Table) Append(o *Table) error {
	if o == nil {
		return nil
	}
	if len(o.Columns) != len(t.Columns) {
		return errors.Wrapf(ErrRowArity, "cannot append %d column table to %d column table", len(o.Columns), len(t.Columns))
	}
	t.Rows = append(t.Rows, o.Rows...)
	return nil
}

func (t *Table) String() string {
	var b strings.Builder
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = fmt.Sprintf("%s:%s", col.Name, col.Type)
	}
	fmt.Fprintf(&b, "TABLE[%s](rows=%d)", strings.Join(names, ","), len(t.Rows))
	for _, row := range t.Rows {
		fmt.Fprintf(&b, "\n  %v", row)
	}
	return b.String()
}

func (t *Table) WriteTo(w io.Writer) (n int64, err error) {
	if err = binary.Write(w, binary.BigEndian, uint16(len(t.Columns))); err != nil {
		return
	}
	n += 2
	for _, col := range t.Columns {
		var sn int64
		if sn, err = common.WriteString(col.Name, w); err != nil {
			return
		}
		n += sn
		if err = binary.Write(w, binary.BigEndian, int8(col.Type)); err != nil {
			return
		}
		n++
	}
	if err = binary.Write(w, binary.BigEndian, uint32(len(t.Rows))); err != nil {
		return
	}
	n += 4
	for _, row := range t.Rows {
		for i, v := range row {
			var vn int64
			if vn, err = writeValue(w, t.Columns[i].Type, v); err != nil {
				return
			}
			n += vn
		}
	}
	return
}

func (t *Table) ReadFrom(r io.Reader) (n int64, err error) {
	var cols uint16
	if err = binary.Read(r, binary.BigEndian, &cols); err != nil {
		return
	}
	n += 2
	t.Columns = make([]Column, cols)
	for i := range t.Columns {
		var sn int64
		if t.Columns[i].Name, sn, err = common.ReadString(r); err != nil {
			return
		}
		n += sn
		var ct int8
		if err = binary.Read(r, binary.BigEndian, &ct); err != nil {
			return
		}
		n++
		t.Columns[i].Type = T(ct)
	}
	var rows uint32
	if err = binary.Read(r, binary.BigEndian, &rows); err != nil {
		return
	}
	n += 4
	t.Rows = make([][]interface{}, rows)
	for i := range t.Rows {
		row := make([]interface{}, cols)
		for j := range row {
			var vn int64
			if row[j], vn, err = readValue(r, t.Columns[j].Type); err != nil {
				return
			}
			n += vn
		}
		t.Rows[i] = row
	}
	return
}

func (t *Table) Marshal() ([]byte, error) {
	var bbuf bytes.Buffer
	if _, err := t.WriteTo(&bbuf); err != nil {
		return nil, err
	}
	return bbuf.Bytes(), nil
}

func (t *Table) Unmarshal(buf []byte) error {
	_, err := t.ReadFrom(bytes.NewBuffer(buf))
	return err
}

func writeValue(w io.Writer, t T, v interface{}) (n int64, err error) {
	isNull := IsNullMarker(v)
	if err = binary.Write(w, binary.BigEndian, isNull); err != nil {
		return
	}
	n = 1
	if isNull {
		return
	}
	switch t {
	case T_tinyint, T_smallint, T_int, T_bigint:
		err = binary.Write(w, binary.BigEndian, toInt64(v))
		n += 8
	case T_float:
		err = binary.Write(w, binary.BigEndian, math.Float64bits(toFloat64(v)))
		n += 8
	case T_timestamp:
		err = binary.Write(w, binary.BigEndian, int64(v.(Timestamp)))
		n += 8
	case T_varchar:
		var sn int64
		sn, err = common.WriteBytes([]byte(v.(string)), w)
		n += sn
	case T_varbinary:
		var sn int64
		sn, err = common.WriteBytes(v.([]byte), w)
		n += sn
	case T_decimal:
		var sn int64
		sn, err = common.WriteString(v.(Decimal).Unscaled().String(), w)
		n += sn
	default:
		err = errors.Wrapf(ErrSerialize, "%s", t)
	}
	return
}

func readValue(r io.Reader, t T) (v interface{}, n int64, err error) {
	var isNull bool
	if err = binary.Read(r, binary.BigEndian, &isNull); err != nil {
		return
	}
	n = 1
	if isNull {
		if t == T_decimal {
			return NullDecimal, n, nil
		}
		if t == T_varchar {
			return NullString, n, nil
		}
		return nil, n, nil
	}
	switch t {
	case T_tinyint, T_smallint, T_int, T_bigint:
		var i int64
		err = binary.Read(r, binary.BigEndian, &i)
		n += 8
		v = fromInt64(t, i)
	case T_float:
		var bits uint64
		err = binary.Read(r, binary.BigEndian, &bits)
		n += 8
		v = math.Float64frombits(bits)
	case T_timestamp:
		var i int64
		err = binary.Read(r, binary.BigEndian, &i)
		n += 8
		v = Timestamp(i)
	case T_varchar:
		var buf []byte
		var sn int64
		buf, sn, err = common.ReadBytes(r)
		n += sn
		v = string(buf)
	case T_varbinary:
		var sn int64
		v, sn, err = common.ReadBytes(r)
		n += sn
	case T_decimal:
		var s string
		var sn int64
		if s, sn, err = common.ReadString(r); err != nil {
			return
		}
		n += sn
		u, ok := new(big.Int).SetString(s, 10)
		if !ok {
			err = errors.Wrapf(ErrInvalidDecimal, "%q", s)
			return
		}
		v = DecimalFromUnscaled(u)
	default:
		err = errors.Wrapf(ErrSerialize, "%s", t)
	}
	return
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case int:
		return int64(x)
	}
	panic(fmt.Sprintf("not an integer: %T", v))
}

func toFloat64(v interface{}) float64 {
	if f, ok := v.(float32); ok {
		return float64(f)
	}
	return v.(float64)
}

func fromInt64(t T, i int64) interface{} {
	switch t {
	case T_tinyint:
		return int8(i)
	case T_smallint:
		return int16(i)
	case T_int:
		return int32(i)
	}
	return i
}
