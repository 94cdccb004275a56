package osp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type item struct {
	Node
	Name string
}

func (i *item) String() string { return i.Name }

type tag struct {
	Node
	Label string
}

type link struct {
	Edge
	Weight int `validate:"gte=0"`
	Rank   int8
	Note   string
}

type rival struct {
	Edge
}

type note struct {
	Obj
	Text string
}

func newTestProgram(t *testing.T) *Program {
	t.Helper()
	prog := NewProgram()
	require.NoError(t, Define[*item](prog))
	require.NoError(t, Define[*tag](prog))
	require.NoError(t, Define[*link](prog))
	require.NoError(t, Define[*rival](prog))
	require.NoError(t, Define[*note](prog))
	return prog
}

func newTestRuntime(t *testing.T, prog *Program, opts ...Option) *Runtime {
	t.Helper()
	if prog == nil {
		prog = newTestProgram(t)
	}
	rt := New(NewMemoryBackend(), prog, opts...)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func mustRoot(t *testing.T, rt *Runtime) *Root {
	t.Helper()
	root, err := rt.Root(context.Background())
	require.NoError(t, err)
	return root
}

func mustConnect[N NodeArchetype](t *testing.T, rt *Runtime, left NodeArchetype, right N, opts ...ConnectOption) N {
	t.Helper()
	out, err := Connect(context.Background(), rt, left, right, opts...)
	require.NoError(t, err)
	return out
}

func names(nodes []NodeArchetype) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if it, ok := n.(*item); ok {
			out = append(out, it.Name)
			continue
		}
		out = append(out, n.Anchor().Type)
	}
	return out
}

func stored(t *testing.T, rt *Runtime, a Archetype) bool {
	t.Helper()
	anchor, err := rt.Store().FindByID(context.Background(), a.Anchor().ID)
	require.NoError(t, err)
	return anchor != nil
}
