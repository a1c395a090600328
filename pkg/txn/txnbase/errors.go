package txnbase

import "github.com/pkg/errors"

var (
	ErrTxnStateTransition = errors.New("ptxn: invalid txn state transition")
	ErrTxnNotExecuting    = errors.New("ptxn: txn is not executing")
	ErrTxnMgrClosed       = errors.New("ptxn: txn manager is closed")
)
