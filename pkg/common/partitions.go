package common

import (
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring"
)

// PartitionSet is an ordered set of partition ids.
type PartitionSet struct {
	bm *roaring.Bitmap
}

func NewPartitionSet(ids ...int32) *PartitionSet {
	s := &PartitionSet{bm: roaring.New()}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// AllPartitions returns {0, ..., n-1}.
func AllPartitions(n int32) *PartitionSet {
	s := NewPartitionSet()
	s.bm.AddRange(0, uint64(n))
	return s
}

func (s *PartitionSet) Add(id int32) {
	if id < 0 {
		panic(fmt.Sprintf("invalid partition id %d", id))
	}
	s.bm.Add(uint32(id))
}

func (s *PartitionSet) Union(o *PartitionSet) {
	if o == nil {
		return
	}
	s.bm.Or(o.bm)
}

func (s *PartitionSet) Contains(id int32) bool {
	return id >= 0 && s.bm.Contains(uint32(id))
}

func (s *PartitionSet) Len() int {
	return int(s.bm.GetCardinality())
}

func (s *PartitionSet) IsEmpty() bool {
	return s.bm.IsEmpty()
}

func (s *PartitionSet) Clear() {
	s.bm.Clear()
}

func (s *PartitionSet) Equals(o *PartitionSet) bool {
	if o == nil {
		return s.IsEmpty()
	}
	return s.bm.Equals(o.bm)
}

// IsOnly reports whether the set is exactly {id}.
func (s *PartitionSet) IsOnly(id int32) bool {
	return s.Len() == 1 && s.Contains(id)
}

func (s *PartitionSet) Clone() *PartitionSet {
	return &PartitionSet{bm: s.bm.Clone()}
}

// Slice returns the ids in ascending order.
func (s *PartitionSet) Slice() []int32 {
	arr := s.bm.ToArray()
	ids := make([]int32, len(arr))
	for i, v := range arr {
		ids[i] = int32(v)
	}
	return ids
}

func (s *PartitionSet) ForEach(fn func(id int32) bool) {
	it := s.bm.Iterator()
	for it.HasNext() {
		if !fn(int32(it.Next())) {
			return
		}
	}
}

func (s *PartitionSet) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, id := range s.Slice() {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%d", id)
	}
	b.WriteString("}")
	return b.String()
}
