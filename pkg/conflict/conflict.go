package conflict

import (
	"fmt"
	"sort"
	"strings"

	"ptxn/pkg/catalog"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var ErrNoCatalog = errors.New("ptxn: conflict calculator has no catalog")

// ConflictSet maps every procedure id to the ids of the procedures it has a
// read-write or write-write conflict with. It is built once per catalog
// version and never changes afterwards.
type ConflictSet struct {
	version uint64
	read    map[uint64]*roaring64.Bitmap
	write   map[uint64]*roaring64.Bitmap
}

func newConflictSet(version uint64) *ConflictSet {
	return &ConflictSet{
		version: version,
		read:    make(map[uint64]*roaring64.Bitmap),
		write:   make(map[uint64]*roaring64.Bitmap),
	}
}

func (cs *ConflictSet) Version() uint64 { return cs.version }

func (cs *ConflictSet) ReadConflicts(proc uint64) *roaring64.Bitmap {
	if bm, ok := cs.read[proc]; ok {
		return bm.Clone()
	}
	return roaring64.New()
}

func (cs *ConflictSet) WriteConflicts(proc uint64) *roaring64.Bitmap {
	if bm, ok := cs.write[proc]; ok {
		return bm.Clone()
	}
	return roaring64.New()
}

// Conflicts reports whether p0 and p1 conflict in either direction.
func (cs *ConflictSet) Conflicts(p0, p1 uint64) bool {
	return cs.has(p0, p1) || cs.has(p1, p0)
}

func (cs *ConflictSet) has(p0, p1 uint64) bool {
	if bm, ok := cs.read[p0]; ok && bm.Contains(p1) {
		return true
	}
	bm, ok := cs.write[p0]
	return ok && bm.Contains(p1)
}

func (cs *ConflictSet) String() string {
	ids := make([]uint64, 0, len(cs.read))
	for id := range cs.read {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var w strings.Builder
	_, _ = w.WriteString(fmt.Sprintf("CONFLICTS<v%d>", cs.version))
	for _, id := range ids {
		_, _ = w.WriteString(fmt.Sprintf("\n  %d: rw=%v ww=%v", id, cs.read[id].ToArray(), cs.write[id].ToArray()))
	}
	return w.String()
}

// Calculator runs the static conflict analysis over a catalog.
type Calculator struct {
	catalog *catalog.Catalog
}

func NewCalculator(cat *catalog.Catalog) *Calculator {
	return &Calculator{catalog: cat}
}

// Process computes the conflict set of every pair of distinct procedures and
// attaches the result to the catalog procedures. System and map-reduce
// procedures take no part.
func (calc *Calculator) Process() (*ConflictSet, error) {
	if calc.catalog == nil {
		return nil, ErrNoCatalog
	}
	cs := newConflictSet(calc.catalog.Version())
	var procs []*catalog.Procedure
	for _, proc := range calc.catalog.Procedures() {
		if proc.System || proc.MapReduce {
			continue
		}
		procs = append(procs, proc)
		cs.read[proc.ID] = roaring64.New()
		cs.write[proc.ID] = roaring64.New()
	}
	for _, p0 := range procs {
		for _, p1 := range procs {
			if p0 == p1 {
				continue
			}
			if readWriteConflict(p0, p1) {
				cs.read[p0.ID].Add(p1.ID)
				logrus.Debugf("RW conflict: %s reads what %s writes", p0.Name, p1.Name)
			}
			if writeWriteConflict(p0, p1) {
				cs.write[p0.ID].Add(p1.ID)
				logrus.Debugf("WW conflict: %s and %s write the same data", p0.Name, p1.Name)
			}
		}
	}
	for _, proc := range procs {
		proc.SetConflicts(cs.read[proc.ID], cs.write[proc.ID])
	}
	logrus.Infof("conflict analysis of catalog v%d: %d procedures", cs.version, len(procs))
	return cs, nil
}

func readWriteConflict(p0, p1 *catalog.Procedure) bool {
	for _, read := range p0.Statements {
		if !read.ReadOnly() {
			continue
		}
		for _, write := range p1.Statements {
			if write.ReadOnly() || read.Table.ID != write.Table.ID {
				continue
			}
			if write.Type != catalog.QueryUpdate {
				return true
			}
			readCols := append(append([]string{}, read.ReferencedColumns...), read.OutputColumns...)
			if intersects(write.ModifiedColumns, readCols) {
				return true
			}
		}
	}
	return false
}

func writeWriteConflict(p0, p1 *catalog.Procedure) bool {
	for _, w0 := range p0.Statements {
		if w0.ReadOnly() {
			continue
		}
		for _, w1 := range p1.Statements {
			if w1.ReadOnly() || w0.Table.ID != w1.Table.ID {
				continue
			}
			if w0.Type != catalog.QueryUpdate || w1.Type != catalog.QueryUpdate {
				return true
			}
			if intersects(w0.ReferencedColumns, w1.ReferencedColumns) {
				return true
			}
		}
	}
	return false
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, s := range a {
		set[s] = true
	}
	for _, s := range b {
		if set[s] {
			return true
		}
	}
	return false
}
