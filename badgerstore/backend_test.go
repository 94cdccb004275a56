package badgerstore

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaseci-labs/osp"
)

type city struct {
	osp.Node
	Name       string
	Population int
}

type road struct {
	osp.Edge
	Km float64
}

type visitor struct {
	osp.Walker
}

func program(t *testing.T, opts ...osp.ProgramOption) *osp.Program {
	t.Helper()
	prog := osp.NewProgram(opts...)
	require.NoError(t, osp.Define[*city](prog))
	require.NoError(t, osp.Define[*road](prog))
	require.NoError(t, osp.Define[*visitor](prog,
		osp.OnEntry("tour", func(w *osp.Walk, _ *visitor, c *city) error {
			w.Report(c.Name)
			refs, err := w.Refs(osp.Out())
			if err != nil {
				return err
			}
			w.VisitNodes(refs...)
			return nil
		}),
		osp.OnEntry("start", func(w *osp.Walk, _ *visitor, _ *osp.Root) error {
			refs, err := w.Refs(osp.Out())
			if err != nil {
				return err
			}
			w.VisitNodes(refs...)
			return nil
		}),
	))
	return prog
}

func openInMemory(t *testing.T, prog *osp.Program) *Backend {
	t.Helper()
	b, err := Open(InMemoryConfig(), prog)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestFindByIDMissing(t *testing.T) {
	b := openInMemory(t, program(t))

	a, err := b.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestRoundTripThroughEviction(t *testing.T) {
	ctx := context.Background()
	prog := program(t)
	b := openInMemory(t, prog)
	rt := osp.New(b, prog)

	root, err := rt.Root(ctx)
	require.NoError(t, err)
	lisbon, err := osp.Connect(ctx, rt, root, &city{Name: "Lisbon", Population: 545000})
	require.NoError(t, err)
	_, err = osp.Connect(ctx, rt, lisbon, &city{Name: "Porto"}, osp.WithEdge(&road{}), osp.WithAttrs(map[string]any{"km": 313.5}), osp.Undirected())
	require.NoError(t, err)
	require.NoError(t, rt.Grant(ctx, lisbon, osp.ReadAccess))

	b.EvictAll()
	assert.Equal(t, 0, b.Cached())

	reloaded, err := rt.Lookup(ctx, lisbon.Anchor().ID)
	require.NoError(t, err)
	got, ok := reloaded.(*city)
	require.True(t, ok)
	assert.NotSame(t, lisbon, got)
	assert.Equal(t, "Lisbon", got.Name)
	assert.Equal(t, 545000, got.Population)
	assert.Equal(t, osp.ReadAccess, got.Anchor().Access.All)
	assert.Equal(t, lisbon.Anchor().Node.Edges, got.Anchor().Node.Edges)

	again, err := rt.Lookup(ctx, lisbon.Anchor().ID)
	require.NoError(t, err)
	assert.Same(t, got, again)

	edges, err := rt.EdgeRefs(ctx, got, osp.Out())
	require.NoError(t, err)
	require.Len(t, edges, 1)
	r, ok := edges[0].(*road)
	require.True(t, ok)
	assert.InDelta(t, 313.5, r.Km, 0.001)
	assert.True(t, r.Anchor().Edge.Undirected)
}

func TestWalkOverReopenedDatabase(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Path = dir
	cfg.SyncWrites = false
	cfg.GCInterval = 0

	prog := program(t)
	b, err := Open(cfg, prog)
	require.NoError(t, err)
	rt := osp.New(b, prog)
	root, err := rt.Root(ctx)
	require.NoError(t, err)
	a, err := osp.Connect(ctx, rt, root, &city{Name: "A"})
	require.NoError(t, err)
	_, err = osp.Connect(ctx, rt, a, &city{Name: "B"})
	require.NoError(t, err)
	gone, err := osp.Connect(ctx, rt, root, &city{Name: "Gone"})
	require.NoError(t, err)
	require.NoError(t, rt.Delete(ctx, gone))
	require.NoError(t, rt.Close())

	b, err = Open(cfg, prog)
	require.NoError(t, err)
	rt = osp.New(b, prog)
	defer rt.Close()

	root, err = rt.Root(ctx)
	require.NoError(t, err)
	walker := &visitor{}
	_, err = rt.Spawn(ctx, root, walker)
	require.NoError(t, err)
	assert.Equal(t, []any{"A", "B"}, walker.Reports())

	var kinds []osp.Kind
	require.NoError(t, b.Scan(ctx, func(_ uuid.UUID, rec Record) error {
		kinds = append(kinds, rec.Kind)
		return nil
	}))
	assert.Len(t, kinds, 5)
	assert.NotContains(t, kinds, osp.KindWalker)
}

func TestOpaqueProgramReadsUnknownTypes(t *testing.T) {
	ctx := context.Background()
	prog := program(t)
	b := openInMemory(t, prog)
	rt := osp.New(b, prog)
	root, err := rt.Root(ctx)
	require.NoError(t, err)
	c, err := osp.Connect(ctx, rt, root, &city{Name: "Faro", Population: 60000})
	require.NoError(t, err)

	inspector := New(b.db, osp.NewProgram(osp.WithOpaque()), nil)
	a, err := inspector.FindByID(ctx, c.Anchor().ID)
	require.NoError(t, err)
	require.NotNil(t, a)
	opaque, ok := a.Archetype.(*osp.OpaqueNode)
	require.True(t, ok)
	assert.Equal(t, "city", a.Type)
	assert.Equal(t, "Faro", opaque.Fields["Name"])

	rec, found, err := inspector.Record(ctx, c.Anchor().ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, osp.KindNode, rec.Kind)
	assert.Equal(t, []string{a.Node.Edges[0].String()}, rec.Edges)
}

func TestConcurrentLoadsShareOneAnchor(t *testing.T) {
	ctx := context.Background()
	prog := program(t)
	b := openInMemory(t, prog)
	rt := osp.New(b, prog)
	root, err := rt.Root(ctx)
	require.NoError(t, err)
	c, err := osp.Connect(ctx, rt, root, &city{Name: "Braga"})
	require.NoError(t, err)
	id := c.Anchor().ID
	b.EvictAll()

	var wg sync.WaitGroup
	found := make([]*osp.Anchor, 16)
	for i := range found {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := b.FindByID(ctx, id)
			assert.NoError(t, err)
			found[i] = a
		}()
	}
	wg.Wait()
	for _, a := range found {
		assert.Same(t, found[0], a)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(DefaultConfig(), osp.NewProgram())
	assert.Error(t, err)
}
