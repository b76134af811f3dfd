// Package cache holds the compiled program of every known metric. The
// mapping is built once, published atomically, and read without locks
// from then on.
package cache

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/chosenoffset/mal/pkg/mal/compiler"
	"github.com/chosenoffset/mal/pkg/mal/malerr"
)

// ErrAlreadyPublished is returned by a second Publish.
var ErrAlreadyPublished = errors.New("program cache already published")

type table struct {
	programs map[string]*compiler.Program
	ids      []string
}

// Cache maps metric identifiers to compiled programs.
type Cache struct {
	table atomic.Pointer[table]
	ready chan struct{}
}

func New() *Cache {
	return &Cache{ready: make(chan struct{})}
}

// Publish makes programs visible to readers. It succeeds once; the map is
// copied so later changes by the caller are not observed.
func (c *Cache) Publish(programs map[string]*compiler.Program) error {
	t := &table{programs: make(map[string]*compiler.Program, len(programs))}
	for id, p := range programs {
		t.programs[id] = p
		t.ids = append(t.ids, id)
	}
	sort.Strings(t.ids)

	if !c.table.CompareAndSwap(nil, t) {
		return ErrAlreadyPublished
	}
	close(c.ready)
	return nil
}

// Published reports whether Publish has happened.
func (c *Cache) Published() bool {
	return c.table.Load() != nil
}

// Wait blocks until the cache is published or ctx is done.
func (c *Cache) Wait(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IDs returns the registered metric identifiers, sorted. It is empty
// before publication.
func (c *Cache) IDs() []string {
	t := c.table.Load()
	if t == nil {
		return nil
	}
	out := make([]string, len(t.ids))
	copy(out, t.ids)
	return out
}

// Lookup returns the program for id. An identifier nobody registered is a
// configuration error listing every registered identifier.
func (c *Cache) Lookup(id string) (*compiler.Program, error) {
	t := c.table.Load()
	if t == nil {
		return nil, &malerr.Error{Kind: malerr.Configuration, Metric: id, Message: "program cache is not published yet"}
	}
	if p, ok := t.programs[id]; ok {
		return p, nil
	}

	msg := "metric is not registered; registered metrics: [" + strings.Join(t.ids, ", ") + "]"
	if hint := malerr.Suggest(id, t.ids); hint != "" {
		msg += ", did you mean " + hint + "?"
	}
	return nil, &malerr.Error{Kind: malerr.Configuration, Metric: id, Message: msg}
}

// Builder compiles expressions ahead of publication. A failing expression
// is recorded and skipped; the others still compile.
type Builder struct {
	compiler *compiler.Compiler
	programs map[string]*compiler.Program
	errs     []error
}

func NewBuilder(c *compiler.Compiler) *Builder {
	if c == nil {
		c = compiler.New(nil)
	}
	return &Builder{compiler: c, programs: make(map[string]*compiler.Program)}
}

// Add compiles expr under id.
func (b *Builder) Add(id, expr string) error {
	if _, dup := b.programs[id]; dup {
		err := &malerr.Error{Kind: malerr.Configuration, Metric: id, Message: "metric defined twice"}
		b.errs = append(b.errs, err)
		return err
	}
	p, err := b.compiler.CompileSource(id, expr)
	if err != nil {
		b.errs = append(b.errs, err)
		return err
	}
	b.programs[id] = p
	return nil
}

// AddEntries compiles every manifest entry.
func (b *Builder) AddEntries(entries []Entry) {
	for _, e := range entries {
		_ = b.Add(e.ID, e.Expression)
	}
}

// Errors returns every compile error recorded so far.
func (b *Builder) Errors() []error {
	return b.errs
}

// Len is the number of successfully compiled programs.
func (b *Builder) Len() int {
	return len(b.programs)
}

// Publish hands the compiled programs to c.
func (b *Builder) Publish(c *Cache) error {
	return c.Publish(b.programs)
}
