package osp

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootIsCreatedLazilyOnce(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	rt := New(backend, nil)

	assert.Equal(t, 0, backend.Len())
	first, err := rt.Root(ctx)
	require.NoError(t, err)
	second, err := rt.Root(ctx)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, SystemRootID, first.Anchor().ID)
	assert.Equal(t, "Root", first.Anchor().Type)
	assert.Equal(t, 1, backend.Len())
}

func TestDeleteNodeCascadesIncidentEdges(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	root := mustRoot(t, rt)

	a := mustConnect(t, rt, root, &item{Name: "a"})
	b := mustConnect(t, rt, a, &item{Name: "b"})
	c := mustConnect(t, rt, b, &item{Name: "c"}, Undirected())
	_ = mustConnect(t, rt, c, b)

	bAnchor := b.Anchor()
	edges := append([]uuid.UUID(nil), bAnchor.Node.Edges...)
	require.Len(t, edges, 3)

	require.NoError(t, rt.Delete(ctx, b))

	assert.False(t, stored(t, rt, b))
	for _, id := range edges {
		anchor, err := rt.Store().FindByID(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, anchor, "edge %s survived", id)
	}
	assert.Empty(t, a.Anchor().Node.Edges[1:])
	assert.Empty(t, c.Anchor().Node.Edges)

	// no remaining edge has a dangling endpoint
	for _, n := range []NodeArchetype{root, a, c} {
		for _, eid := range n.Anchor().Node.Edges {
			e, err := rt.Store().FindByID(ctx, eid)
			require.NoError(t, err)
			require.NotNil(t, e)
			for _, end := range []uuid.UUID{e.Edge.Source, e.Edge.Target} {
				node, err := rt.Store().FindByID(ctx, end)
				require.NoError(t, err)
				assert.NotNil(t, node)
			}
		}
	}
}

func TestDeleteEdgeDetachesEndpoints(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	root := mustRoot(t, rt)
	edge := &link{Weight: 1}
	a := mustConnect(t, rt, root, &item{Name: "a"}, WithEdge(edge))

	require.NoError(t, rt.Delete(ctx, edge))

	assert.Empty(t, root.Anchor().Node.Edges)
	assert.Empty(t, a.Anchor().Node.Edges)
	assert.True(t, stored(t, rt, a))
}

func TestRootCannotBeDeleted(t *testing.T) {
	rt := newTestRuntime(t, nil)
	root := mustRoot(t, rt)

	err := rt.Delete(context.Background(), root)
	assert.ErrorIs(t, err, ErrRootDeletion)
	assert.True(t, stored(t, rt, root))
}

func TestDeleteUnresolved(t *testing.T) {
	rt := newTestRuntime(t, nil)

	err := rt.Delete(context.Background(), &item{Name: "inert"})
	assert.ErrorIs(t, err, ErrUnresolvedAnchor)
	assert.ErrorIs(t, rt.Delete(context.Background(), nil), ErrNilArchetype)
}

func TestSaveAndLookup(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)

	n := &note{Text: "hello"}
	require.NoError(t, rt.Save(ctx, n))
	require.NotNil(t, n.Anchor())
	assert.Equal(t, KindObj, n.Anchor().Kind)
	assert.False(t, n.Anchor().Dirty())

	got, err := rt.Lookup(ctx, n.Anchor().ID)
	require.NoError(t, err)
	assert.Same(t, n, got)

	_, err = rt.Lookup(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrUnresolvedAnchor)

	assert.Error(t, rt.Save(ctx, &link{}))
}

func TestUpdateAndAssign(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	root := mustRoot(t, rt)
	a := mustConnect(t, rt, root, &item{Name: "a"})

	require.NoError(t, rt.Update(ctx, a, func() error {
		a.Name = "renamed"
		return nil
	}))
	assert.Equal(t, "renamed", a.Name)

	boom := errors.New("boom")
	assert.ErrorIs(t, rt.Update(ctx, a, func() error { return boom }), boom)

	require.NoError(t, rt.Assign(ctx, a, map[string]any{"name": "assigned"}))
	assert.Equal(t, "assigned", a.Name)

	err := rt.Assign(ctx, a, map[string]any{"missing": 1})
	assert.ErrorIs(t, err, ErrInvalidAttributeAssignment)
	assert.Equal(t, "assigned", a.Name)

	edge := &link{Weight: 1}
	mustConnect(t, rt, root, &item{Name: "b"}, WithEdge(edge))
	require.NoError(t, rt.Assign(ctx, edge, map[string]any{"weight": 4.0, "rank": 12}))
	assert.Equal(t, 4, edge.Weight)
	assert.Equal(t, int8(12), edge.Rank)

	err = rt.Assign(ctx, edge, map[string]any{"rank": 300})
	assert.ErrorIs(t, err, ErrInvalidAttributeAssignment)
	err = rt.Assign(ctx, edge, map[string]any{"weight": 2.5})
	assert.ErrorIs(t, err, ErrInvalidAttributeAssignment)
	assert.Equal(t, 4, edge.Weight)
	assert.Equal(t, int8(12), edge.Rank)
}

type countingBackend struct {
	*MemoryBackend
	puts    int
	deletes int
}

func (b *countingBackend) Put(ctx context.Context, a *Anchor) error {
	b.puts++
	return b.MemoryBackend.Put(ctx, a)
}

func (b *countingBackend) Delete(ctx context.Context, id uuid.UUID) error {
	b.deletes++
	return b.MemoryBackend.Delete(ctx, id)
}

func TestMutationsWriteThroughOncePerAnchor(t *testing.T) {
	ctx := context.Background()
	backend := &countingBackend{MemoryBackend: NewMemoryBackend()}
	rt := New(backend, newTestProgram(t))
	root := mustRoot(t, rt)
	backend.puts = 0

	_, err := Connect(ctx, rt, root, &item{Name: "a"})
	require.NoError(t, err)

	// root, the new node and the new edge
	assert.Equal(t, 3, backend.puts)
	assert.Equal(t, 0, backend.deletes)
	assert.False(t, root.Anchor().Dirty())
}

type failingBackend struct {
	*MemoryBackend
	err error
}

func (b *failingBackend) FindByID(ctx context.Context, id uuid.UUID) (*Anchor, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.MemoryBackend.FindByID(ctx, id)
}

func TestBackendErrorsPropagate(t *testing.T) {
	backend := &failingBackend{MemoryBackend: NewMemoryBackend()}
	rt := New(backend, nil)
	mustRoot(t, rt)

	backend.err = errors.New("disk on fire")
	_, err := rt.Root(context.Background())
	assert.ErrorIs(t, err, backend.err)
}

// flakyBackend fails Put for one anchor kind and, once armed, every Delete.
type flakyBackend struct {
	*MemoryBackend
	putKind   Kind
	deleteErr error
}

var errDiskFull = errors.New("disk full")

func (b *flakyBackend) Put(ctx context.Context, a *Anchor) error {
	if a.Kind == b.putKind {
		return errDiskFull
	}
	return b.MemoryBackend.Put(ctx, a)
}

func (b *flakyBackend) Delete(ctx context.Context, id uuid.UUID) error {
	if b.deleteErr != nil {
		return b.deleteErr
	}
	return b.MemoryBackend.Delete(ctx, id)
}

func TestFailedConnectLeavesNoDanglingEdge(t *testing.T) {
	for _, kind := range []Kind{KindEdge, KindNode} {
		t.Run(kind.String(), func(t *testing.T) {
			ctx := context.Background()
			backend := &flakyBackend{MemoryBackend: NewMemoryBackend()}
			rt := New(backend, newTestProgram(t))
			root := mustRoot(t, rt)
			backend.putKind = kind

			right := &item{Name: "right"}
			edge := &link{}
			_, err := Connect(ctx, rt, root, right, WithEdge(edge))
			require.ErrorIs(t, err, errDiskFull)

			assert.Nil(t, right.Anchor())
			assert.Nil(t, edge.Anchor())
			assert.Empty(t, root.Anchor().Node.Edges)
			assert.False(t, root.Anchor().Dirty())
			assert.Equal(t, 1, backend.Len())

			backend.putKind = 0
			mustConnect(t, rt, root, right, WithEdge(edge))
			out, err := rt.Refs(ctx, root, Out())
			require.NoError(t, err)
			assert.Equal(t, []string{"right"}, names(out))
		})
	}
}

func TestFailedDeleteRestoresEdges(t *testing.T) {
	ctx := context.Background()
	backend := &flakyBackend{MemoryBackend: NewMemoryBackend()}
	rt := New(backend, newTestProgram(t))
	root := mustRoot(t, rt)
	a := mustConnect(t, rt, root, &item{Name: "a"})
	b := mustConnect(t, rt, a, &item{Name: "b"})
	edges := append([]uuid.UUID(nil), a.Anchor().Node.Edges...)
	stored := backend.Len()

	backend.deleteErr = errDiskFull
	require.ErrorIs(t, rt.Delete(ctx, a), errDiskFull)

	assert.Equal(t, edges, a.Anchor().Node.Edges)
	assert.Len(t, root.Anchor().Node.Edges, 1)
	assert.Len(t, b.Anchor().Node.Edges, 1)
	assert.Equal(t, stored, backend.Len())

	backend.deleteErr = nil
	out, err := rt.Refs(ctx, root, Out())
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names(out))
	require.NoError(t, rt.Delete(ctx, a))
	assert.Empty(t, root.Anchor().Node.Edges)
}
