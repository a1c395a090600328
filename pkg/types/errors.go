package types

import "github.com/pkg/errors"

var (
	ErrNoNull         = errors.New("ptxn: type has no NULL representation")
	ErrUnknownType    = errors.New("ptxn: unknown type")
	ErrRowArity       = errors.New("ptxn: row arity mismatch")
	ErrColumnType     = errors.New("ptxn: column type mismatch")
	ErrNotScalar      = errors.New("ptxn: not a scalar table")
	ErrSerialize      = errors.New("ptxn: unsupported column type for serialization")
	ErrInvalidDecimal = errors.New("ptxn: invalid decimal")
)
