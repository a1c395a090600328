package common

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

var ErrStringTooLong = errors.New("ptxn: string too long")

// WriteString writes str with a uint16 length prefix. Longer strings go
// through WriteBytes.
func WriteString(str string, w io.Writer) (n int64, err error) {
	buf := []byte(str)
	if len(buf) > math.MaxUint16 {
		err = errors.Wrapf(ErrStringTooLong, "%d bytes", len(buf))
		return
	}
	if err = binary.Write(w, binary.BigEndian, uint16(len(buf))); err != nil {
		return
	}
	wn, err := w.Write(buf)
	return int64(wn + 2), err
}

func ReadString(r io.Reader) (str string, n int64, err error) {
	var size uint16
	if err = binary.Read(r, binary.BigEndian, &size); err != nil {
		return
	}
	buf := make([]byte, size)
	if _, err = io.ReadFull(r, buf); err != nil {
		return
	}
	return string(buf), int64(size) + 2, nil
}

func WriteBytes(buf []byte, w io.Writer) (n int64, err error) {
	if err = binary.Write(w, binary.BigEndian, uint32(len(buf))); err != nil {
		return
	}
	wn, err := w.Write(buf)
	return int64(wn + 4), err
}

func ReadBytes(r io.Reader) (buf []byte, n int64, err error) {
	var size uint32
	if err = binary.Read(r, binary.BigEndian, &size); err != nil {
		return
	}
	buf = make([]byte, size)
	if _, err = io.ReadFull(r, buf); err != nil {
		return
	}
	return buf, int64(size) + 4, nil
}
