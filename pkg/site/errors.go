package site

import "github.com/pkg/errors"

var (
	ErrSiteClosed         = errors.New("ptxn: site closed")
	ErrProcedureDisabled  = errors.New("ptxn: procedure disabled")
	ErrTooManyRestarts    = errors.New("ptxn: too many restarts")
	ErrPartitionsMismatch = errors.New("ptxn: engine count does not match partitions")
)
