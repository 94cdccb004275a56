package osp

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteDOT(t *testing.T) {
	doc := GraphDocument{
		Version: GraphDocumentVersion,
		Nodes: []GraphNode{
			{ID: "alpha", Label: "Root"},
			{ID: "beta", Label: `say "hi"`},
		},
		Edges: []GraphEdge{{From: "alpha", To: "beta"}},
	}

	var buf bytes.Buffer
	if err := doc.WriteDOT(&buf, DOTWithGraphName("pipeline"), DOTWithRankDir("TB")); err != nil {
		t.Fatalf("write DOT: %v", err)
	}

	want := `digraph "pipeline" {
    rankdir=TB;
    "alpha" [label="Root"];
    "beta" [label="say \"hi\""];
    "alpha" -> "beta";
}
`
	if got := buf.String(); got != want {
		t.Fatalf("unexpected DOT output:\n--- got ---\n%s\n--- want ---\n%s", got, want)
	}
}

func TestWriteMissingWriter(t *testing.T) {
	var doc GraphDocument
	if err := doc.WriteDOT(nil); !errors.Is(err, ErrNilWriter) {
		t.Fatalf("expected ErrNilWriter, got %v", err)
	}
	if err := doc.WriteJSON(nil); !errors.Is(err, ErrNilWriter) {
		t.Fatalf("expected ErrNilWriter, got %v", err)
	}
}

func TestDedupIsIdempotent(t *testing.T) {
	doc := GraphDocument{
		Nodes: []GraphNode{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}, {ID: "a", Label: "again"}},
		Edges: []GraphEdge{{From: "a", To: "b"}, {From: "b", To: "a"}, {From: "a", To: "b"}},
	}

	once := Dedup(doc)
	twice := Dedup(once)

	assert.Equal(t, once, twice)
	assert.Equal(t, GraphDocumentVersion, once.Version)
	assert.Equal(t, []GraphNode{{ID: "a", Label: "A"}, {ID: "b", Label: "B"}}, once.Nodes)
	assert.Equal(t, []GraphEdge{{From: "a", To: "b"}, {From: "b", To: "a"}}, once.Edges)
}

func TestExportGraph(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	root := mustRoot(t, rt)
	a := mustConnect(t, rt, root, &item{Name: "a"})
	b := mustConnect(t, rt, a, &item{Name: "b"}, Undirected())
	mustConnect(t, rt, b, a)
	mustConnect(t, rt, b, &tag{Label: "t"})
	orphanParent := &item{Name: "orphan-parent"}
	require.NoError(t, rt.Save(ctx, orphanParent))
	mustConnect(t, rt, orphanParent, a)

	doc, err := rt.ExportGraph(ctx)
	require.NoError(t, err)

	id := func(n NodeArchetype) string { return n.Anchor().ID.String() }
	assert.Equal(t, "1.0", doc.Version)
	assert.Equal(t, []GraphNode{
		{ID: id(root), Label: "Root"},
		{ID: id(a), Label: "a"},
		{ID: id(b), Label: "b"},
		{ID: doc.Nodes[3].ID, Label: "tag"},
	}, doc.Nodes)
	assert.Equal(t, []GraphEdge{
		{From: id(root), To: id(a)},
		{From: id(a), To: id(b)},
		{From: id(b), To: id(a)},
		{From: id(b), To: doc.Nodes[3].ID},
	}, doc.Edges)

	withIncoming, err := rt.ExportGraph(ctx, ExportIncoming())
	require.NoError(t, err)
	assert.Len(t, withIncoming.Nodes, 5)
	assert.Len(t, withIncoming.Edges, 5)

	shallow, err := rt.ExportGraph(ctx, ExportDepth(1))
	require.NoError(t, err)
	assert.Len(t, shallow.Nodes, 2)
	assert.Len(t, shallow.Edges, 1)

	limited, err := rt.ExportGraph(ctx, ExportNodeLimit(2), ExportEdgeLimit(3))
	require.NoError(t, err)
	assert.Len(t, limited.Nodes, 2)
	assert.LessOrEqual(t, len(limited.Edges), 3)

	custom, err := rt.ExportGraph(ctx, ExportLabel(func(n NodeArchetype) string { return n.Anchor().Kind.String() }))
	require.NoError(t, err)
	for _, n := range custom.Nodes {
		assert.Equal(t, "node", n.Label)
	}
}

func TestExportEdgeLimitCountsUniqueEdges(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	root := mustRoot(t, rt)
	a := mustConnect(t, rt, root, &item{Name: "a"}, Undirected())
	b := mustConnect(t, rt, a, &item{Name: "b"}, Undirected())
	c := mustConnect(t, rt, b, &item{Name: "c"}, Undirected())

	full, err := rt.ExportGraph(ctx)
	require.NoError(t, err)
	require.Len(t, full.Edges, 3)

	id := func(n NodeArchetype) string { return n.Anchor().ID.String() }
	limited, err := rt.ExportGraph(ctx, ExportEdgeLimit(3))
	require.NoError(t, err)
	assert.Equal(t, []GraphEdge{
		{From: id(root), To: id(a)},
		{From: id(a), To: id(b)},
		{From: id(b), To: id(c)},
	}, limited.Edges)

	two, err := rt.ExportGraph(ctx, ExportEdgeLimit(2))
	require.NoError(t, err)
	assert.Len(t, two.Edges, 2)
	assert.Len(t, two.Nodes, 3)
}

func TestExportJSONRoundTrip(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	root := mustRoot(t, rt)
	mustConnect(t, rt, mustConnect(t, rt, root, &item{Name: "x"}), &item{Name: "y"}, Undirected())

	doc, err := rt.ExportGraph(ctx)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, doc.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"version": "1.0"`)
	assert.Contains(t, buf.String(), `"from"`)

	decoded, err := ReadGraphDocument(&buf)
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)
	assert.Equal(t, Dedup(decoded), Dedup(Dedup(decoded)))
}

func TestExportRespectsAccess(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, nil)
	root := mustRoot(t, rt)
	shared := mustConnect(t, rt, root, &item{Name: "shared"})
	require.NoError(t, rt.Grant(ctx, shared, ConnectAccess))

	user := rt.As(newID())
	userRoot, err := user.Root(ctx)
	require.NoError(t, err)
	mustConnect(t, user, userRoot, shared)

	doc, err := user.ExportGraph(ctx)
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 2)
	assert.Len(t, doc.Edges, 1)

	require.NoError(t, rt.Revoke(ctx, shared))
	doc, err = user.ExportGraph(ctx)
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 1)
	assert.Empty(t, doc.Edges)
}
