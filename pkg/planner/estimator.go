package planner

import (
	"encoding/binary"
	"math"

	"ptxn/pkg/catalog"
	"ptxn/pkg/common"
	"ptxn/pkg/types"

	farm "github.com/dgryski/go-farm"
	"github.com/pkg/errors"
)

// Hasher maps a partitioning value to a partition id.
type Hasher interface {
	Hash(v interface{}) int32
	Partitions() int32
}

// DefaultHasher spreads integers by modulo and everything else by farm
// fingerprint. NULL always lands on partition 0.
type DefaultHasher struct {
	partitions int32
}

func NewDefaultHasher(partitions int32) *DefaultHasher {
	if partitions <= 0 {
		panic("partitions must be positive")
	}
	return &DefaultHasher{partitions: partitions}
}

func (h *DefaultHasher) Partitions() int32 { return h.partitions }

func (h *DefaultHasher) Hash(v interface{}) int32 {
	if types.IsNull(v) {
		return 0
	}
	switch x := v.(type) {
	case int8:
		return h.hashInt(int64(x))
	case int16:
		return h.hashInt(int64(x))
	case int32:
		return h.hashInt(int64(x))
	case int64:
		return h.hashInt(x)
	case int:
		return h.hashInt(int64(x))
	case types.Timestamp:
		return h.hashInt(int64(x))
	case string:
		return h.hashBytes([]byte(x))
	case []byte:
		return h.hashBytes(x)
	case float64:
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(x))
		return h.hashBytes(buf[:])
	case types.Decimal:
		return h.hashBytes([]byte(x.String()))
	}
	return 0
}

func (h *DefaultHasher) hashInt(v int64) int32 {
	p := v % int64(h.partitions)
	if p < 0 {
		p = -p
	}
	return int32(p)
}

func (h *DefaultHasher) hashBytes(buf []byte) int32 {
	return int32(farm.Fingerprint32(buf) % uint32(h.partitions))
}

// PartitionEstimator resolves the partitions a statement touches from its
// bound arguments.
type PartitionEstimator struct {
	hasher Hasher
}

func NewPartitionEstimator(hasher Hasher) *PartitionEstimator {
	return &PartitionEstimator{hasher: hasher}
}

func (e *PartitionEstimator) Partitions() int32 { return e.hasher.Partitions() }

func (e *PartitionEstimator) Hasher() Hasher { return e.hasher }

// StatementPartitions returns the target partitions of one statement call.
func (e *PartitionEstimator) StatementPartitions(stmt *catalog.Statement, args []interface{}, base int32) (*common.PartitionSet, error) {
	switch stmt.Route {
	case catalog.RouteKeyed:
		if stmt.PartitionParam < 0 {
			return common.NewPartitionSet(e.hasher.Hash(stmt.PartitionLiteral)), nil
		}
		if stmt.PartitionParam >= len(args) {
			return nil, errors.Errorf("statement %s: partition parameter %d out of %d arguments",
				stmt.FullName(), stmt.PartitionParam, len(args))
		}
		return common.NewPartitionSet(e.hasher.Hash(args[stmt.PartitionParam])), nil
	case catalog.RouteAll:
		return common.AllPartitions(e.hasher.Partitions()), nil
	case catalog.RouteBase:
		return common.NewPartitionSet(base), nil
	}
	return nil, errors.Errorf("statement %s: unknown route %s", stmt.FullName(), stmt.Route)
}

// BasePartition predicts the partition an invocation should run on. ok is
// false when the procedure has no partitioning parameter.
func (e *PartitionEstimator) BasePartition(proc *catalog.Procedure, args []interface{}) (base int32, ok bool) {
	if proc.PartitionParam == catalog.NoPartitionParam || proc.PartitionParam >= len(args) {
		return 0, false
	}
	return e.hasher.Hash(args[proc.PartitionParam]), true
}
