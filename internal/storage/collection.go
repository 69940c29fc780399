package storage

import (
	"iter"
	"path/filepath"
	"strings"

	"github.com/sigreer/ssm/internal/backend"
)

// EntityKind names a collection.
type EntityKind string

const (
	Devices   EntityKind = "devices"
	Pools     EntityKind = "pools"
	Volumes   EntityKind = "volumes"
	Snapshots EntityKind = "snapshots"
)

type entry struct {
	src backend.Source
	// allowed is nil when no prefix filter applies.
	allowed map[string]bool
}

func (e entry) names() []string {
	names := e.src.Names()
	if e.allowed == nil {
		return names
	}
	out := make([]string, 0, len(e.allowed))
	for _, n := range names {
		if e.allowed[n] {
			out = append(out, n)
		}
	}
	return out
}

func (e entry) get(name string) *backend.Record {
	rec := e.src.Get(name)
	if rec == nil || (e.allowed != nil && !e.allowed[rec.Name]) {
		return nil
	}
	return rec
}

// Collection is the union of one entity kind across backends.
type Collection struct {
	kind    EntityKind
	schema  Schema
	entries []entry
	env     *itemEnv

	defaultKind backend.Kind
}

// NewCollection groups sources of one entity kind. Sources are searched
// and listed in the given order. A non-empty prefix drops every record
// whose basename, pool name and device-mapper basename all lack it.
func NewCollection(kind EntityKind, schema Schema, env *itemEnv, prefix string, sources ...backend.Source) *Collection {
	c := &Collection{kind: kind, schema: schema, env: env}
	for _, src := range sources {
		if src == nil {
			continue
		}
		e := entry{src: src}
		if prefix != "" {
			e.allowed = make(map[string]bool)
			for _, n := range src.Names() {
				if rec := src.Get(n); rec != nil && matchesPrefix(rec, prefix) {
					e.allowed[rec.Name] = true
				}
			}
		}
		c.entries = append(c.entries, e)
	}
	return c
}

func matchesPrefix(rec *backend.Record, prefix string) bool {
	if strings.HasPrefix(filepath.Base(rec.Name), prefix) {
		return true
	}
	if rec.PoolName != "" && strings.HasPrefix(rec.PoolName, prefix) {
		return true
	}
	return rec.DMName != "" && strings.HasPrefix(filepath.Base(rec.DMName), prefix)
}

// Kind returns the collection's entity kind.
func (c *Collection) Kind() EntityKind { return c.kind }

func (c *Collection) item(src backend.Source, name string) Item {
	return Item{src: src, name: name, env: c.env}
}

// All yields every entity once, source by source.
func (c *Collection) All() iter.Seq[Item] {
	return func(yield func(Item) bool) {
		for _, e := range c.entries {
			for _, n := range e.names() {
				if !yield(c.item(e.src, n)) {
					return
				}
			}
		}
	}
}

// Filesystems yields the entities carrying a filesystem.
func (c *Collection) Filesystems() iter.Seq[Item] {
	return func(yield func(Item) bool) {
		for it := range c.All() {
			if it.Has(backend.AttrFSType) && !yield(it) {
				return
			}
		}
	}
}

// Get returns the first entity named name. The name is matched as given
// by each source, so device sources may resolve symlinks.
func (c *Collection) Get(name string) (Item, bool) {
	for _, e := range c.entries {
		if rec := e.get(name); rec != nil {
			return c.item(e.src, rec.Name), true
		}
	}
	return Item{}, false
}

// Source returns the source of the given backend.
func (c *Collection) Source(kind backend.Kind) (backend.Source, bool) {
	for _, e := range c.entries {
		if e.src.Kind() == kind {
			return e.src, true
		}
	}
	return nil, false
}

// Default returns a pool item named name on the default backend. The
// pool need not exist; name "" selects the backend's default pool name.
func (c *Collection) Default(name string) (Item, bool) {
	src, ok := c.Source(c.defaultKind)
	if !ok {
		return Item{}, false
	}
	if name == "" {
		pm, ok := src.(backend.PoolManager)
		if !ok {
			return Item{}, false
		}
		name = pm.DefaultPoolName()
	}
	return c.item(src, name), true
}
