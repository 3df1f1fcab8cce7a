package sections

import (
	"context"
	"sort"
	"sync"
)

// MemoryCatalog is the in-memory Catalog adapter.
type MemoryCatalog struct {
	mu       sync.RWMutex
	sections []Section
}

// NewMemoryCatalog seeds a catalog. Pass DefaultSections() for the standard
// set or an explicit slice in tests.
func NewMemoryCatalog(seed []Section) *MemoryCatalog {
	cp := append([]Section(nil), seed...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Order < cp[j].Order })
	return &MemoryCatalog{sections: cp}
}

func (c *MemoryCatalog) List(_ context.Context) ([]Section, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Section(nil), c.sections...), nil
}

func (c *MemoryCatalog) ListMandatory(_ context.Context) ([]Section, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Section
	for _, s := range c.sections {
		if s.Mandatory {
			out = append(out, s)
		}
	}
	return out, nil
}

// Replace swaps the catalog contents; catalog edits are rare and
// administrative.
func (c *MemoryCatalog) Replace(seed []Section) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sections = append([]Section(nil), seed...)
	sort.Slice(c.sections, func(i, j int) bool { return c.sections[i].Order < c.sections[j].Order })
}
