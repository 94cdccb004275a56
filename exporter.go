package osp

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// GraphDocumentVersion is the version written into exported documents.
const GraphDocumentVersion = "1.0"

// ErrNilWriter indicates that a nil writer was provided to an exporter.
var ErrNilWriter = errors.New("osp: nil writer")

// GraphDocument is the serialized form of the reachable graph.
type GraphDocument struct {
	Version string      `json:"version"`
	Nodes   []GraphNode `json:"nodes"`
	Edges   []GraphEdge `json:"edges"`
}

// GraphNode is one node of a GraphDocument.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// GraphEdge is one edge of a GraphDocument.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Dedup keeps the first node per id and the first edge per (from, to) pair,
// preserving order. Dedup(Dedup(d)) equals Dedup(d).
func Dedup(doc GraphDocument) GraphDocument {
	out := GraphDocument{
		Version: doc.Version,
		Nodes:   make([]GraphNode, 0, len(doc.Nodes)),
		Edges:   make([]GraphEdge, 0, len(doc.Edges)),
	}
	if out.Version == "" {
		out.Version = GraphDocumentVersion
	}
	nodes := make(map[string]struct{}, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if _, dup := nodes[n.ID]; dup {
			continue
		}
		nodes[n.ID] = struct{}{}
		out.Nodes = append(out.Nodes, n)
	}
	edges := make(map[GraphEdge]struct{}, len(doc.Edges))
	for _, e := range doc.Edges {
		if _, dup := edges[e]; dup {
			continue
		}
		edges[e] = struct{}{}
		out.Edges = append(out.Edges, e)
	}
	return out
}

// WriteJSON writes doc as indented JSON.
func (doc GraphDocument) WriteJSON(w io.Writer) error {
	if w == nil {
		return ErrNilWriter
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

// ReadGraphDocument decodes a document written by WriteJSON.
func ReadGraphDocument(r io.Reader) (GraphDocument, error) {
	var doc GraphDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return GraphDocument{}, fmt.Errorf("osp: decode graph document: %w", err)
	}
	return doc, nil
}

// DOTOption configures the behaviour of WriteDOT.
type DOTOption func(*dotConfig)

type dotConfig struct {
	graphName string
	rankDir   string
}

func defaultDOTConfig() dotConfig {
	return dotConfig{
		graphName: "osp",
		rankDir:   "LR",
	}
}

// DOTWithGraphName overrides the DOT graph identifier.
func DOTWithGraphName(name string) DOTOption {
	return func(cfg *dotConfig) {
		if name != "" {
			cfg.graphName = name
		}
	}
}

// DOTWithRankDir sets the rank direction (e.g. "LR", "TB") for the exported DOT graph.
func DOTWithRankDir(rankDir string) DOTOption {
	return func(cfg *dotConfig) {
		if rankDir != "" {
			cfg.rankDir = rankDir
		}
	}
}

// WriteDOT renders doc in Graphviz DOT format, in document order.
func (doc GraphDocument) WriteDOT(w io.Writer, opts ...DOTOption) error {
	if w == nil {
		return ErrNilWriter
	}

	cfg := defaultDOTConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, err := fmt.Fprintf(w, "digraph %s {\n", dotQuoteIdentifier(cfg.graphName)); err != nil {
		return err
	}
	if cfg.rankDir != "" {
		if _, err := fmt.Fprintf(w, "    rankdir=%s;\n", cfg.rankDir); err != nil {
			return err
		}
	}
	for _, n := range doc.Nodes {
		if _, err := fmt.Fprintf(w, "    %s [label=%s];\n", dotQuoteIdentifier(n.ID), dotQuoteIdentifier(n.Label)); err != nil {
			return err
		}
	}
	for _, e := range doc.Edges {
		if _, err := fmt.Fprintf(w, "    %s -> %s;\n", dotQuoteIdentifier(e.From), dotQuoteIdentifier(e.To)); err != nil {
			return err
		}
	}

	_, err := io.WriteString(w, "}\n")
	return err
}

func dotQuoteIdentifier(name string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range name {
		switch r {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
