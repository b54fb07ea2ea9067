package extension

import (
	"strings"

	"go.starlark.net/starlark"

	"github.com/quarrybuild/quarry/pkg/diag"
	"github.com/quarrybuild/quarry/pkg/scope"
)

// ExecFunc evaluates the module at path and returns its top-level
// bindings. The provenance set is pre-seeded with the module's own path;
// the callback appends any further dependencies the evaluation observes.
type ExecFunc func(path, cell string, prov *Provenance) (starlark.StringDict, error)

// Cache materializes each module at most once per evaluator instance.
// It is not safe for concurrent use; an evaluator instance owns exactly
// one cache.
type Cache struct {
	exec       ExecFunc
	records    map[string]*ModuleRecord
	inProgress map[string]bool
	loading    []string
}

// NewCache creates a cache that evaluates modules through exec.
func NewCache(exec ExecFunc) *Cache {
	return &Cache{
		exec:       exec,
		records:    make(map[string]*ModuleRecord),
		inProgress: make(map[string]bool),
	}
}

// Load returns the record for a resolved include, evaluating the file on
// first use. A reference back into a module that is still evaluating is
// reported as a load cycle naming the full chain.
func (c *Cache) Load(inc ResolvedInclude) (*ModuleRecord, error) {
	if rec, ok := c.records[inc.Path]; ok {
		return rec, nil
	}
	if c.inProgress[inc.Path] {
		chain := append(append([]string(nil), c.loading...), inc.Path)
		return nil, diag.Newf(diag.KindLoadCycle,
			"load cycle: %s", strings.Join(chain, " -> ")).WithPath(inc.Path)
	}

	c.inProgress[inc.Path] = true
	c.loading = append(c.loading, inc.Path)
	defer func() {
		delete(c.inProgress, inc.Path)
		c.loading = c.loading[:len(c.loading)-1]
	}()

	rec := &ModuleRecord{
		Path:       inc.Path,
		Cell:       inc.Cell,
		Provenance: NewProvenance(),
	}
	rec.Provenance.AddFile(inc.Path)

	globals, err := c.exec(rec.Path, rec.Cell, rec.Provenance)
	if err != nil {
		return nil, err
	}
	sc, err := scope.FromStringDict(globals)
	if err != nil {
		return nil, diag.Wrap(diag.KindInvalidReference, "bad export declaration", err).WithPath(inc.Path)
	}
	rec.Scope = sc

	c.records[inc.Path] = rec
	return rec, nil
}

// Get returns a previously loaded record, or nil.
func (c *Cache) Get(path string) *ModuleRecord {
	return c.records[path]
}

// Len reports the number of materialized modules.
func (c *Cache) Len() int {
	return len(c.records)
}
