package procedure

import (
	"ptxn/pkg/catalog"

	"github.com/pkg/errors"
)

// MaxBatchSize is the hard ceiling of statements queued before a flush.
const MaxBatchSize = 1000

type BatchEntry struct {
	Stmt *catalog.Statement
	Args []interface{}
}

// BatchQueue accumulates statements in call order. It is owned by one
// invocation and reused across its flushes.
type BatchQueue struct {
	stmts []*catalog.Statement
	args  [][]interface{}
	limit int
}

func NewBatchQueue(limit int) *BatchQueue {
	if limit <= 0 || limit > MaxBatchSize {
		limit = MaxBatchSize
	}
	return &BatchQueue{limit: limit}
}

func (q *BatchQueue) Add(stmt *catalog.Statement, args []interface{}) error {
	if len(q.stmts) >= q.limit {
		return errors.Wrapf(ErrBatchSizeExceeded, "%d statements queued", len(q.stmts))
	}
	q.stmts = append(q.stmts, stmt)
	q.args = append(q.args, args)
	return nil
}

func (q *BatchQueue) Len() int { return len(q.stmts) }

// Drain hands out the queued statements and their arguments and leaves the
// queue empty.
func (q *BatchQueue) Drain() ([]*catalog.Statement, [][]interface{}) {
	stmts := make([]*catalog.Statement, len(q.stmts))
	args := make([][]interface{}, len(q.args))
	copy(stmts, q.stmts)
	copy(args, q.args)
	for i := range q.stmts {
		q.stmts[i] = nil
		q.args[i] = nil
	}
	q.stmts = q.stmts[:0]
	q.args = q.args[:0]
	return stmts, args
}

func (q *BatchQueue) Entries() []BatchEntry {
	entries := make([]BatchEntry, len(q.stmts))
	for i := range q.stmts {
		entries[i] = BatchEntry{Stmt: q.stmts[i], Args: q.args[i]}
	}
	return entries
}
