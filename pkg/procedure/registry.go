package procedure

import (
	"sort"
	"strings"
	"sync"

	"ptxn/pkg/catalog"

	"github.com/pkg/errors"
)

// RunFunc is the entry point of a stored procedure. It returns nil, a
// *types.Table, a []*types.Table or an int64.
type RunFunc func(ctx *Context, args []interface{}) (interface{}, error)

// Descriptor declares a procedure's statements and entry point.
type Descriptor struct {
	Def catalog.ProcedureDef
	Run RunFunc
}

type Registry struct {
	sync.RWMutex
	procs map[string]*Descriptor
}

func NewRegistry() *Registry {
	return &Registry{procs: make(map[string]*Descriptor)}
}

func (r *Registry) Register(desc *Descriptor) error {
	if desc.Run == nil {
		return errors.Errorf("ptxn: procedure %s has no entry point", desc.Def.Name)
	}
	r.Lock()
	defer r.Unlock()
	key := procKey(desc.Def.Name)
	if _, ok := r.procs[key]; ok {
		return errors.Wrap(ErrDuplicateProcedure, desc.Def.Name)
	}
	r.procs[key] = desc
	return nil
}

func procKey(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func (r *Registry) MustRegister(descs ...*Descriptor) *Registry {
	for _, desc := range descs {
		if err := r.Register(desc); err != nil {
			panic(err)
		}
	}
	return r
}

func (r *Registry) Get(name string) (*Descriptor, error) {
	r.RLock()
	defer r.RUnlock()
	desc, ok := r.procs[procKey(name)]
	if !ok {
		return nil, errors.Wrap(ErrUnknownProcedure, name)
	}
	return desc, nil
}

func (r *Registry) Names() []string {
	r.RLock()
	defer r.RUnlock()
	names := make([]string, 0, len(r.procs))
	for name := range r.procs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildCatalog compiles every registered procedure against tables.
func (r *Registry) BuildCatalog(version uint64, tables ...catalog.TableDef) (*catalog.Catalog, error) {
	b := catalog.NewBuilder(version)
	for _, def := range tables {
		b.AddTable(def)
	}
	for _, name := range r.Names() {
		desc, _ := r.Get(name)
		b.AddProcedure(desc.Def)
	}
	return b.Build()
}
