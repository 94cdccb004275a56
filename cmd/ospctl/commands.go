package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jaseci-labs/osp"
	"github.com/jaseci-labs/osp/badgerstore"
	"github.com/jaseci-labs/osp/config"
)

var errNotPersistent = errors.New("ospctl: store is not a badger database")

type globalFlags struct {
	configPath string
	dbPath     string
	root       string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	cmd := &cobra.Command{
		Use:           "ospctl",
		Short:         "Inspect persisted object-spatial graphs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flags.dbPath, "db", "", "badger database directory (overrides the config store)")
	cmd.PersistentFlags().StringVar(&flags.root, "root", "", "context root id (defaults to the system root)")

	cmd.AddCommand(
		newExportCmd(flags),
		newShowCmd(flags),
		newStatsCmd(flags),
	)
	return cmd
}

func (f *globalFlags) load() (config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if f.dbPath != "" {
		cfg.Store.Driver = config.DriverBadger
		cfg.Store.Path = f.dbPath
		cfg.Store.InMemory = false
	}
	if f.root != "" {
		cfg.Root = f.root
	}
	return cfg, cfg.Validate()
}

// open returns a read-side runtime. Unknown archetype types load as opaque
// placeholders.
func (f *globalFlags) open(stderr io.Writer) (*osp.Runtime, error) {
	cfg, err := f.load()
	if err != nil {
		return nil, err
	}
	// Collection would rewrite the value log of a database we only read.
	cfg.Store.GCInterval = 0
	return cfg.NewRuntime(osp.NewProgram(osp.WithOpaque()), stderr)
}

func badgerOf(rt *osp.Runtime) (*badgerstore.Backend, error) {
	b, ok := rt.Store().Backend().(*badgerstore.Backend)
	if !ok {
		return nil, errNotPersistent
	}
	return b, nil
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var (
		format   string
		depth    int
		incoming bool
		maxNodes int
		maxEdges int
		rankDir  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the graph reachable from the context root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "json" && format != "dot" {
				return fmt.Errorf("unknown format %q (want json or dot)", format)
			}
			rt, err := flags.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()

			// Root would create a missing root; look it up without writing.
			if _, err := rt.Lookup(cmd.Context(), rt.RootID()); err != nil {
				return err
			}
			opts := []osp.ExportOption{
				osp.ExportDepth(depth),
				osp.ExportNodeLimit(maxNodes),
				osp.ExportEdgeLimit(maxEdges),
			}
			if incoming {
				opts = append(opts, osp.ExportIncoming())
			}
			doc, err := rt.ExportGraph(cmd.Context(), opts...)
			if err != nil {
				return err
			}
			if format == "dot" {
				return doc.WriteDOT(cmd.OutOrStdout(), osp.DOTWithRankDir(rankDir))
			}
			return doc.WriteJSON(cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or dot")
	cmd.Flags().IntVar(&depth, "depth", -1, "maximum hops from the root, -1 for unbounded")
	cmd.Flags().BoolVar(&incoming, "incoming", false, "also follow incoming edges")
	cmd.Flags().IntVar(&maxNodes, "max-nodes", 0, "node limit, 0 for none")
	cmd.Flags().IntVar(&maxEdges, "max-edges", 0, "edge limit, 0 for none")
	cmd.Flags().StringVar(&rankDir, "rankdir", "LR", "DOT rank direction")
	return cmd
}

// anchorView is the printable form of a stored record.
type anchorView struct {
	ID         string            `yaml:"id"`
	Kind       string            `yaml:"kind"`
	Type       string            `yaml:"type"`
	Owner      string            `yaml:"owner"`
	All        string            `yaml:"all"`
	Roots      map[string]string `yaml:"roots,omitempty"`
	Edges      []string          `yaml:"edges,omitempty"`
	Source     string            `yaml:"source,omitempty"`
	Target     string            `yaml:"target,omitempty"`
	Undirected bool              `yaml:"undirected,omitempty"`
	Fields     map[string]any    `yaml:"fields,omitempty"`
}

func viewRecord(id uuid.UUID, rec badgerstore.Record) (anchorView, error) {
	fields, err := rec.Fields()
	if err != nil {
		return anchorView{}, err
	}
	v := anchorView{
		ID:         id.String(),
		Kind:       rec.Kind.String(),
		Type:       rec.Type,
		Owner:      rec.Owner,
		All:        rec.All.String(),
		Edges:      rec.Edges,
		Source:     rec.Source,
		Target:     rec.Target,
		Undirected: rec.Undirected,
		Fields:     fields,
	}
	if len(rec.Roots) > 0 {
		v.Roots = make(map[string]string, len(rec.Roots))
		for root, lvl := range rec.Roots {
			v.Roots[root] = lvl.String()
		}
	}
	return v, nil
}

func newShowCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print the stored record of one anchor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("bad anchor id %q: %w", args[0], err)
			}
			rt, err := flags.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			b, err := badgerOf(rt)
			if err != nil {
				return err
			}

			rec, ok, err := b.Record(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s", osp.ErrUnresolvedAnchor, id)
			}
			view, err := viewRecord(id, rec)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(view); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}

type typeCount struct {
	kind  string
	typ   string
	count int
}

func collectStats(ctx context.Context, b *badgerstore.Backend) ([]typeCount, error) {
	counts := make(map[[2]string]int)
	err := b.Scan(ctx, func(_ uuid.UUID, rec badgerstore.Record) error {
		counts[[2]string{rec.Kind.String(), rec.Type}]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]typeCount, 0, len(counts))
	for k, n := range counts {
		out = append(out, typeCount{kind: k[0], typ: k[1], count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].kind != out[j].kind {
			return out[i].kind < out[j].kind
		}
		return out[i].typ < out[j].typ
	})
	return out, nil
}

func newStatsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count stored anchors by kind and type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := flags.open(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close()
			b, err := badgerOf(rt)
			if err != nil {
				return err
			}

			stats, err := collectStats(cmd.Context(), b)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tTYPE\tCOUNT")
			total := 0
			for _, s := range stats {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", s.kind, s.typ, s.count)
				total += s.count
			}
			fmt.Fprintf(tw, "total\t\t%d\n", total)
			return tw.Flush()
		},
	}
}
