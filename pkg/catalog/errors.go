package catalog

import "errors"

var (
	ErrNotFound          = errors.New("ptxn: catalog entry not found")
	ErrDuplicate         = errors.New("ptxn: duplicate catalog entry")
	ErrUnsupportedSQL    = errors.New("ptxn: unsupported statement")
	ErrUnknownColumn     = errors.New("ptxn: unknown column")
	ErrUntypedParam      = errors.New("ptxn: cannot infer parameter type")
	ErrBadPartitionParam = errors.New("ptxn: bad partition parameter")
)
