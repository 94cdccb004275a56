package osp

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ExportOption configures ExportGraph.
type ExportOption func(*exportConfig)

type exportConfig struct {
	incoming  bool
	depth     int
	nodeLimit int
	edgeLimit int
	label     func(NodeArchetype) string
}

func defaultExportConfig() exportConfig {
	return exportConfig{
		depth: -1,
		label: defaultLabel,
	}
}

// ExportIncoming also follows directed edges against their direction.
func ExportIncoming() ExportOption {
	return func(cfg *exportConfig) {
		cfg.incoming = true
	}
}

// ExportDepth limits the export to nodes at most depth hops from the root.
// A negative depth means no limit.
func ExportDepth(depth int) ExportOption {
	return func(cfg *exportConfig) {
		cfg.depth = depth
	}
}

// ExportNodeLimit caps the number of exported nodes. Zero means no limit.
func ExportNodeLimit(n int) ExportOption {
	return func(cfg *exportConfig) {
		cfg.nodeLimit = n
	}
}

// ExportEdgeLimit caps the number of exported edges. Zero means no limit.
func ExportEdgeLimit(n int) ExportOption {
	return func(cfg *exportConfig) {
		cfg.edgeLimit = n
	}
}

// ExportLabel sets how node labels are derived.
func ExportLabel(fn func(NodeArchetype) string) ExportOption {
	return func(cfg *exportConfig) {
		if fn != nil {
			cfg.label = fn
		}
	}
}

func defaultLabel(n NodeArchetype) string {
	if s, ok := n.(fmt.Stringer); ok {
		return s.String()
	}
	if a := n.Anchor(); a != nil && a.Type != "" {
		return a.Type
	}
	return typeLabel(reflect.TypeOf(n))
}

// ExportGraph walks the graph breadth-first from the context root over
// readable anchors and returns it as a deduplicated document. Edges keep
// their stored orientation whichever side they were reached from.
func (rt *Runtime) ExportGraph(ctx context.Context, opts ...ExportOption) (GraphDocument, error) {
	cfg := defaultExportConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := rt.tracer.Start(ctx, "osp.ExportGraph",
		trace.WithAttributes(attribute.String("osp.root.id", rt.root.String())),
	)
	defer span.End()

	doc, err := rt.exportGraph(ctx, cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return GraphDocument{}, err
	}
	span.SetAttributes(
		attribute.Int("osp.export.nodes", len(doc.Nodes)),
		attribute.Int("osp.export.edges", len(doc.Edges)),
	)
	span.SetStatus(codes.Ok, "")
	rt.logger.Debug("graph exported",
		slog.Int("nodes", len(doc.Nodes)),
		slog.Int("edges", len(doc.Edges)),
	)
	return doc, nil
}

func (rt *Runtime) exportGraph(ctx context.Context, cfg exportConfig) (GraphDocument, error) {
	root, err := rt.Root(ctx)
	if err != nil {
		return GraphDocument{}, err
	}
	dir := Outgoing
	if cfg.incoming {
		dir = AnyDirection
	}

	doc := GraphDocument{Version: GraphDocumentVersion}
	err = rt.store.view(ctx, func(tx *txn) error {
		start, err := tx.resolveArchetype(root)
		if err != nil {
			return err
		}
		seen := map[uuid.UUID]struct{}{start.ID: {}}
		recorded := make(map[GraphEdge]struct{})
		doc.Nodes = append(doc.Nodes, GraphNode{ID: start.ID.String(), Label: cfg.label(root)})

		frontier := []*Anchor{start}
		for depth := 0; len(frontier) > 0 && (cfg.depth < 0 || depth < cfg.depth); depth++ {
			var next []*Anchor
			for _, n := range frontier {
				for _, eid := range n.Node.Edges {
					if cfg.edgeLimit > 0 && len(doc.Edges) >= cfg.edgeLimit {
						return nil
					}
					e, err := tx.find(eid)
					if err != nil {
						return err
					}
					if e == nil || !rt.allows(e, ReadAccess) {
						continue
					}
					farID, ok := e.Edge.FarEnd(n.ID, dir)
					if !ok {
						continue
					}
					far, err := tx.find(farID)
					if err != nil {
						return err
					}
					if far == nil || !rt.allows(far, ReadAccess) {
						continue
					}
					if _, known := seen[farID]; !known {
						if cfg.nodeLimit > 0 && len(doc.Nodes) >= cfg.nodeLimit {
							continue
						}
						seen[farID] = struct{}{}
						doc.Nodes = append(doc.Nodes, GraphNode{
							ID:    farID.String(),
							Label: cfg.label(far.Archetype.(NodeArchetype)),
						})
						next = append(next, far)
					}
					ge := GraphEdge{
						From: e.Edge.Source.String(),
						To:   e.Edge.Target.String(),
					}
					// Edges seen from both ends count once against the limit.
					if _, dup := recorded[ge]; dup {
						continue
					}
					recorded[ge] = struct{}{}
					doc.Edges = append(doc.Edges, ge)
				}
			}
			frontier = next
		}
		return nil
	})
	if err != nil {
		return GraphDocument{}, err
	}
	return Dedup(doc), nil
}
