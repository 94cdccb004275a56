package promhooks

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaseci-labs/osp"
)

type stop struct {
	osp.Node
}

type counter struct {
	osp.Walker
	fail bool
}

func TestCollectorCountsWalks(t *testing.T) {
	ctx := context.Background()
	prog := osp.NewProgram()
	require.NoError(t, osp.Define[*stop](prog))
	require.NoError(t, osp.Define[*counter](prog,
		osp.OnEntry("root", func(w *osp.Walk, c *counter, _ *osp.Root) error {
			if c.fail {
				return errors.New("boom")
			}
			refs, err := w.Refs(osp.Out())
			if err != nil {
				return err
			}
			w.VisitNodes(refs...)
			return nil
		}),
		osp.OnEntry("stop", func(w *osp.Walk, _ *counter, _ *stop) error {
			w.Report("stop")
			w.Disengage()
			return nil
		}),
	))

	reg := prometheus.NewPedanticRegistry()
	collector := New(reg)
	rt := osp.New(nil, prog, osp.WithHooks(collector.Hooks()))
	root, err := rt.Root(ctx)
	require.NoError(t, err)
	for range 2 {
		_, err := osp.Connect(ctx, rt, root, &stop{})
		require.NoError(t, err)
	}

	_, err = rt.Spawn(ctx, root, &counter{})
	require.NoError(t, err)
	_, err = rt.Spawn(ctx, root, &counter{fail: true})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.walks.WithLabelValues("counter", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.walks.WithLabelValues("counter", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.visits.WithLabelValues("counter", "Root")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.visits.WithLabelValues("counter", "stop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.reports.WithLabelValues("counter")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.disengages.WithLabelValues("counter")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.activeWalks))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.duration))
}
