package procedure

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"ptxn/pkg/common"
	"ptxn/pkg/types"
)

type Status int8

const (
	StatusSuccess           Status = 1
	StatusUserAbort         Status = -1
	StatusGracefulFailure   Status = -2
	StatusUnexpectedFailure Status = -3
	StatusConnectionLost    Status = -4
	StatusMispredicted      Status = -5
)

// UninitializedAppStatus is the app status of a response whose procedure
// never set one.
const UninitializedAppStatus int8 = math.MinInt8

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUserAbort:
		return "USER_ABORT"
	case StatusGracefulFailure:
		return "GRACEFUL_FAILURE"
	case StatusUnexpectedFailure:
		return "UNEXPECTED_FAILURE"
	case StatusConnectionLost:
		return "CONNECTION_LOST"
	case StatusMispredicted:
		return "MISPREDICTED"
	}
	return fmt.Sprintf("Status(%d)", int8(s))
}

// ClientResponse is the one terminal response of an invocation.
type ClientResponse struct {
	ClientHandle    uint64
	TxnID           uint64
	Status          Status
	StatusString    string
	AppStatus       int8
	AppStatusString string
	Results         []*types.Table
}

func NewErrorResponse(handle, txnID uint64, status Status, msg string) *ClientResponse {
	return &ClientResponse{
		ClientHandle: handle,
		TxnID:        txnID,
		Status:       status,
		StatusString: msg,
		AppStatus:    UninitializedAppStatus,
		Results:      []*types.Table{},
	}
}

func (resp *ClientResponse) String() string {
	return fmt.Sprintf("Response<handle=%d,txn=%d,%s,%q,results=%d>",
		resp.ClientHandle, resp.TxnID, resp.Status, resp.StatusString, len(resp.Results))
}

func (resp *ClientResponse) WriteTo(w io.Writer) (n int64, err error) {
	if err = binary.Write(w, binary.BigEndian, resp.ClientHandle); err != nil {
		return
	}
	if err = binary.Write(w, binary.BigEndian, resp.TxnID); err != nil {
		return
	}
	if err = binary.Write(w, binary.BigEndian, int8(resp.Status)); err != nil {
		return
	}
	n += 17
	var sn int64
	if sn, err = common.WriteBytes([]byte(resp.StatusString), w); err != nil {
		return
	}
	n += sn
	if err = binary.Write(w, binary.BigEndian, resp.AppStatus); err != nil {
		return
	}
	n++
	if sn, err = common.WriteBytes([]byte(resp.AppStatusString), w); err != nil {
		return
	}
	n += sn
	if err = binary.Write(w, binary.BigEndian, uint16(len(resp.Results))); err != nil {
		return
	}
	n += 2
	for _, t := range resp.Results {
		if sn, err = t.WriteTo(w); err != nil {
			return
		}
		n += sn
	}
	return
}

func (resp *ClientResponse) ReadFrom(r io.Reader) (n int64, err error) {
	if err = binary.Read(r, binary.BigEndian, &resp.ClientHandle); err != nil {
		return
	}
	if err = binary.Read(r, binary.BigEndian, &resp.TxnID); err != nil {
		return
	}
	var status int8
	if err = binary.Read(r, binary.BigEndian, &status); err != nil {
		return
	}
	resp.Status = Status(status)
	n += 17
	var sn int64
	var buf []byte
	if buf, sn, err = common.ReadBytes(r); err != nil {
		return
	}
	resp.StatusString = string(buf)
	n += sn
	if err = binary.Read(r, binary.BigEndian, &resp.AppStatus); err != nil {
		return
	}
	n++
	if buf, sn, err = common.ReadBytes(r); err != nil {
		return
	}
	resp.AppStatusString = string(buf)
	n += sn
	var cnt uint16
	if err = binary.Read(r, binary.BigEndian, &cnt); err != nil {
		return
	}
	n += 2
	resp.Results = make([]*types.Table, cnt)
	for i := range resp.Results {
		t := new(types.Table)
		if sn, err = t.ReadFrom(r); err != nil {
			return
		}
		n += sn
		resp.Results[i] = t
	}
	return
}

func (resp *ClientResponse) Marshal() ([]byte, error) {
	var bbuf bytes.Buffer
	if _, err := resp.WriteTo(&bbuf); err != nil {
		return nil, err
	}
	return bbuf.Bytes(), nil
}

func (resp *ClientResponse) Unmarshal(buf []byte) error {
	_, err := resp.ReadFrom(bytes.NewBuffer(buf))
	return err
}
