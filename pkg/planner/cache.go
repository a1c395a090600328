package planner

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"ptxn/pkg/catalog"

	farm "github.com/dgryski/go-farm"
	"github.com/sirupsen/logrus"
)

// Cache shares batch planners across all partition workers, keyed by a hash
// of the catalog version and the ordered statement ids of the batch. Lookups
// are lock free once an entry exists; creation is serialized and checked
// twice.
type Cache struct {
	mu       sync.Mutex
	planners sync.Map
	size     int32
}

func NewCache() *Cache {
	return new(Cache)
}

func batchKey(version uint64, stmts []*catalog.Statement) uint64 {
	buf := make([]byte, 8*(len(stmts)+1))
	binary.BigEndian.PutUint64(buf, version)
	for i, stmt := range stmts {
		binary.BigEndian.PutUint64(buf[8*(i+1):], stmt.ID)
	}
	return farm.Fingerprint64(buf)
}

func (c *Cache) GetOrCreate(cat *catalog.Catalog, stmts []*catalog.Statement) (*BatchPlanner, error) {
	key := batchKey(cat.Version(), stmts)
	if v, ok := c.planners.Load(key); ok {
		if p := v.(*BatchPlanner); p.matches(cat.Version(), stmts) {
			cacheHits.Inc()
			return p, nil
		}
		logrus.Warnf("batch planner cache collision on key %x", key)
		return NewBatchPlanner(cat, stmts)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.planners.Load(key); ok {
		if p := v.(*BatchPlanner); p.matches(cat.Version(), stmts) {
			cacheHits.Inc()
			return p, nil
		}
		return NewBatchPlanner(cat, stmts)
	}
	cacheMisses.Inc()
	p, err := NewBatchPlanner(cat, stmts)
	if err != nil {
		return nil, err
	}
	c.planners.Store(key, p)
	atomic.AddInt32(&c.size, 1)
	return p, nil
}

func (c *Cache) Len() int {
	return int(atomic.LoadInt32(&c.size))
}

// Reset drops every cached planner. It has to be called whenever the catalog
// changes.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.planners.Range(func(key, _ interface{}) bool {
		c.planners.Delete(key)
		return true
	})
	atomic.StoreInt32(&c.size, 0)
}
