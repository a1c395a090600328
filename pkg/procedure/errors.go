package procedure

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrParamCount         = errors.New("ptxn: parameter count mismatch")
	ErrParamType          = errors.New("ptxn: parameter type mismatch")
	ErrNullToPrimitive    = errors.New("ptxn: null passed to a primitive parameter")
	ErrArrayMismatch      = errors.New("ptxn: array parameter mismatch")
	ErrBatchSizeExceeded  = errors.New("ptxn: batch size exceeded")
	ErrUnknownStatement   = errors.New("ptxn: unknown statement")
	ErrUnknownProcedure   = errors.New("ptxn: unknown procedure")
	ErrDuplicateProcedure = errors.New("ptxn: procedure already registered")
	ErrBadReturnType      = errors.New("ptxn: unsupported procedure return type")
)

// AbortError is the only way for procedure code to roll back its txn with a
// message for the client.
type AbortError struct {
	Msg string
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("user abort: %s", e.Msg)
}

// Abort returns an AbortError carrying msg.
func Abort(format string, args ...interface{}) error {
	return &AbortError{Msg: fmt.Sprintf(format, args...)}
}

func IsParamError(err error) bool {
	switch errors.Cause(err) {
	case ErrParamCount, ErrParamType, ErrNullToPrimitive, ErrArrayMismatch:
		return true
	}
	return false
}
