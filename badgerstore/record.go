package badgerstore

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/jaseci-labs/osp"
)

// Record is the stored form of an anchor. Ids are kept as strings.
type Record struct {
	Kind       osp.Kind             `msgpack:"kind"`
	Type       string               `msgpack:"type"`
	Owner      string               `msgpack:"owner"`
	All        osp.Level            `msgpack:"all"`
	Roots      map[string]osp.Level `msgpack:"roots,omitempty"`
	Edges      []string             `msgpack:"edges,omitempty"`
	Source     string               `msgpack:"source,omitempty"`
	Target     string               `msgpack:"target,omitempty"`
	Undirected bool                 `msgpack:"undirected,omitempty"`
	Payload    msgpack.RawMessage   `msgpack:"payload"`
}

// Fields decodes the payload into a generic map.
func (r Record) Fields() (map[string]any, error) {
	var fields map[string]any
	if len(r.Payload) == 0 {
		return fields, nil
	}
	if err := msgpack.Unmarshal(r.Payload, &fields); err != nil {
		return nil, fmt.Errorf("badgerstore: decode payload: %w", err)
	}
	return fields, nil
}

func encodeAnchor(a *osp.Anchor) ([]byte, error) {
	rec := Record{
		Kind:  a.Kind,
		Type:  a.Type,
		Owner: a.Access.Owner.String(),
		All:   a.Access.All,
	}
	if len(a.Access.Roots) > 0 {
		rec.Roots = make(map[string]osp.Level, len(a.Access.Roots))
		for root, lvl := range a.Access.Roots {
			rec.Roots[root.String()] = lvl
		}
	}
	switch {
	case a.Node != nil:
		rec.Edges = make([]string, len(a.Node.Edges))
		for i, id := range a.Node.Edges {
			rec.Edges[i] = id.String()
		}
	case a.Edge != nil:
		rec.Source = a.Edge.Source.String()
		rec.Target = a.Edge.Target.String()
		rec.Undirected = a.Edge.Undirected
	}

	var payload any = a.Archetype
	if o, ok := a.Archetype.(osp.Opaque); ok {
		payload = o.RawFields()
	}
	raw, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: encode %s payload: %w", a.ID, err)
	}
	rec.Payload = raw

	return msgpack.Marshal(&rec)
}

func decodeRecord(val []byte) (Record, error) {
	var rec Record
	if err := msgpack.Unmarshal(val, &rec); err != nil {
		return Record{}, fmt.Errorf("badgerstore: decode record: %w", err)
	}
	return rec, nil
}

// rehydrate rebuilds a live anchor from rec, instantiating its archetype
// through prog.
func rehydrate(id uuid.UUID, rec Record, prog *osp.Program) (*osp.Anchor, error) {
	arch, err := prog.Instantiate(rec.Type, rec.Kind)
	if err != nil {
		return nil, err
	}
	if o, ok := arch.(osp.Opaque); ok {
		fields, err := rec.Fields()
		if err != nil {
			return nil, err
		}
		o.SetRawFields(fields)
	} else if len(rec.Payload) > 0 {
		if err := msgpack.Unmarshal(rec.Payload, arch); err != nil {
			return nil, fmt.Errorf("badgerstore: decode %s payload: %w", rec.Type, err)
		}
	}

	a := &osp.Anchor{
		ID:         id,
		Kind:       rec.Kind,
		Type:       rec.Type,
		Persistent: true,
		Access:     osp.Access{All: rec.All},
	}
	if a.Access.Owner, err = uuid.Parse(rec.Owner); err != nil {
		return nil, fmt.Errorf("badgerstore: %s owner: %w", id, err)
	}
	if len(rec.Roots) > 0 {
		a.Access.Roots = make(map[uuid.UUID]osp.Level, len(rec.Roots))
		for s, lvl := range rec.Roots {
			root, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("badgerstore: %s grant: %w", id, err)
			}
			a.Access.Roots[root] = lvl
		}
	}

	switch rec.Kind {
	case osp.KindNode:
		a.Node = &osp.NodeAnchor{Edges: make([]uuid.UUID, 0, len(rec.Edges))}
		for _, s := range rec.Edges {
			eid, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("badgerstore: %s edge: %w", id, err)
			}
			a.Node.Edges = append(a.Node.Edges, eid)
		}
	case osp.KindEdge:
		a.Edge = &osp.EdgeAnchor{Undirected: rec.Undirected}
		if a.Edge.Source, err = uuid.Parse(rec.Source); err != nil {
			return nil, fmt.Errorf("badgerstore: %s source: %w", id, err)
		}
		if a.Edge.Target, err = uuid.Parse(rec.Target); err != nil {
			return nil, fmt.Errorf("badgerstore: %s target: %w", id, err)
		}
	}

	osp.BindAnchor(a, arch)
	return a, nil
}
