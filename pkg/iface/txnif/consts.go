package txnif

const (
	TxnStateDispatched int32 = iota
	TxnStateExecuting
	TxnStateCommitted
	TxnStateAborted
	TxnStateMispredicted
)

func StateString(state int32) string {
	switch state {
	case TxnStateDispatched:
		return "Dispatched"
	case TxnStateExecuting:
		return "Executing"
	case TxnStateCommitted:
		return "Committed"
	case TxnStateAborted:
		return "Aborted"
	case TxnStateMispredicted:
		return "Mispredicted"
	}
	return "Unknown"
}
