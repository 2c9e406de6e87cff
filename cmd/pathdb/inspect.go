package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andreyvit/pathdb"
)

type dumpOptions struct {
	docs    bool
	index   bool
	history bool
	stats   bool
}

func (o dumpOptions) flags() pathdb.DumpFlags {
	var f pathdb.DumpFlags
	if o.docs {
		f |= pathdb.DumpDocuments
	}
	if o.index {
		f |= pathdb.DumpIndex
	}
	if o.history {
		f |= pathdb.DumpHistory
	}
	if o.stats {
		f |= pathdb.DumpStats
	}
	if f == 0 {
		f = pathdb.DumpAll
	}
	return f
}

func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &dumpOptions{}
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the stored documents (and, for Bolt, the index and history)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), rootOpts, func(ctx context.Context, backend pathdb.Backend) error {
				return runDump(ctx, backend, opts.flags(), cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVar(&opts.docs, "docs", false, "documents")
	cmd.Flags().BoolVar(&opts.index, "index", false, "index entries")
	cmd.Flags().BoolVar(&opts.history, "history", false, "history records")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "counts")
	return cmd
}

func runDump(ctx context.Context, backend pathdb.Backend, f pathdb.DumpFlags, w io.Writer) error {
	if kv, ok := backend.(*pathdb.KV); ok {
		return kv.Dump(ctx, w, f)
	}
	docs, err := backend.ScanAll(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		data, err := json.Marshal(doc)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %s\n", doc.ID, data)
	}
	return nil
}

func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print document, index and history counts of a Bolt database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), rootOpts, func(ctx context.Context, backend pathdb.Backend) error {
				return runStats(ctx, backend, cmd.OutOrStdout())
			})
		},
	}
}

func runStats(ctx context.Context, backend pathdb.Backend, w io.Writer) error {
	kv, ok := backend.(*pathdb.KV)
	if !ok {
		return fmt.Errorf("stats requires the bolt or memory backend")
	}
	st, err := kv.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "documents:       %d\n", st.Documents)
	fmt.Fprintf(w, "paths:           %d\n", st.Paths)
	fmt.Fprintf(w, "index entries:   %d\n", st.IndexEntries)
	fmt.Fprintf(w, "history records: %d\n", st.HistoryRecords)
	fmt.Fprintf(w, "data size:       %d (alloc %d)\n", st.DataSize, st.DataAlloc)
	fmt.Fprintf(w, "index size:      %d (alloc %d)\n", st.IndexSize, st.IndexAlloc)
	fmt.Fprintf(w, "file size:       %d\n", st.FileSize)
	return nil
}

func withBackend(ctx context.Context, opts *RootOptions, f func(ctx context.Context, backend pathdb.Backend) error) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("closing backend", zap.Error(err))
		}
	}()
	return f(ctx, backend)
}
