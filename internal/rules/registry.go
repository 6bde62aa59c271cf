package rules

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/opensource-finance/heron/internal/domain"
)

// tableSet is an immutable snapshot of compiled tables.
type tableSet map[string]*CompiledTable

// Registry holds the compiled rule tables in use.
// Readers never observe a partially updated set: every change builds a new
// set and swaps it in.
type Registry struct {
	tables atomic.Pointer[tableSet]
	opts   CompileOptions
}

// NewRegistry creates an empty registry.
func NewRegistry(opts CompileOptions) *Registry {
	r := &Registry{opts: opts}
	empty := tableSet{}
	r.tables.Store(&empty)
	return r
}

// Options returns the compile options used by the registry.
func (r *Registry) Options() CompileOptions {
	return r.opts
}

// Validate compiles a table without loading it.
func (r *Registry) Validate(table *domain.RuleTable) (*CompiledTable, error) {
	return Compile(table, r.opts)
}

// Load compiles and adds (or replaces) a single table.
func (r *Registry) Load(table *domain.RuleTable) (*CompiledTable, error) {
	ct, err := Compile(table, r.opts)
	if err != nil {
		return nil, err
	}
	for {
		old := r.tables.Load()
		next := make(tableSet, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[ct.Name] = ct
		if r.tables.CompareAndSwap(old, &next) {
			return ct, nil
		}
	}
}

// Reload compiles every table and replaces the whole set.
// Nothing changes if any table fails to compile.
func (r *Registry) Reload(tables []*domain.RuleTable) error {
	next := make(tableSet, len(tables))
	for _, t := range tables {
		ct, err := Compile(t, r.opts)
		if err != nil {
			return err
		}
		if _, dup := next[ct.Name]; dup {
			return fmt.Errorf("%w: duplicate table name %s", ErrInvalidTable, ct.Name)
		}
		next[ct.Name] = ct
	}
	r.tables.Store(&next)
	return nil
}

// Get returns a compiled table by name.
func (r *Registry) Get(name string) (*CompiledTable, bool) {
	ct, ok := (*r.tables.Load())[name]
	return ct, ok
}

// Names returns the loaded table names, sorted.
func (r *Registry) Names() []string {
	set := *r.tables.Load()
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of loaded tables.
func (r *Registry) Count() int {
	return len(*r.tables.Load())
}
