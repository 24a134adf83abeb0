package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	marqo "github.com/marqo-ai/marqo-haystack"
	"github.com/marqo-ai/marqo-haystack/internal/version"
)

func newIndexCmd(a *app) *cobra.Command {
	var policy string
	cmd := &cobra.Command{
		Use:   "index <file>...",
		Short: "Index UTF-8 text files, one document per file",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := marqo.ParseDuplicatePolicy(policy)
			if err != nil {
				return err
			}
			docs, err := marqo.TextFilesToDocuments(args, nil)
			if err != nil {
				return fmt.Errorf("failed to convert files: %w", err)
			}
			store, err := a.openStore(cmd.Context(), nil)
			if err != nil {
				return err
			}
			n, err := store.WriteDocuments(cmd.Context(), docs, p)
			var we *marqo.WriteError
			if errors.As(err, &we) {
				for _, f := range we.Failed {
					fmt.Fprintf(cmd.ErrOrStderr(), "rejected %s: %s\n", f.ID, f.Message)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d of %d documents to %s\n", n, len(docs), store.Index())
			return err
		},
	}
	cmd.Flags().StringVar(&policy, "policy", string(marqo.PolicyNone), "duplicate policy: none, skip, overwrite, fail")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		topK    int
		filters string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "query <query>...",
		Short: "Retrieve the documents most relevant to each query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := parseFilters(filters)
			if err != nil {
				return err
			}
			store, err := a.openStore(cmd.Context(), nil)
			if err != nil {
				return err
			}
			r, err := marqo.NewRetriever(store,
				marqo.WithDefaultTopK(a.cfg.Retriever.TopK),
				marqo.WithDefaultFilters(a.cfg.Retriever.Filters),
			)
			if err != nil {
				return err
			}
			results, err := r.Run(cmd.Context(), args, f, topK)
			if err != nil {
				return fmt.Errorf("failed to retrieve: %w", err)
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), results)
			}
			for i, docs := range results {
				fmt.Fprintf(cmd.OutOrStdout(), "Query: %s\n", args[i])
				printHits(cmd.OutOrStdout(), docs)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "documents per query (default from config)")
	cmd.Flags().StringVar(&filters, "filters", "", `filters as JSON, e.g. '{"lang": "en"}'`)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>...",
		Short: "Fetch documents by ID",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context(), nil)
			if err != nil {
				return err
			}
			docs, err := store.GetDocumentsByID(cmd.Context(), args)
			if err != nil {
				return fmt.Errorf("failed to get documents: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), docs)
		},
	}
}

func newDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete documents by ID",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context(), nil)
			if err != nil {
				return err
			}
			if err := store.DeleteDocuments(cmd.Context(), args); err != nil {
				return fmt.Errorf("failed to delete documents: %w", err)
			}
			// Marqo ignores unknown IDs.
			fmt.Fprintf(cmd.OutOrStdout(), "Requested deletion of %d id(s)\n", len(args))
			return nil
		},
	}
}

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print document and vector counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openStore(cmd.Context(), nil)
			if err != nil {
				return err
			}
			docs, err := store.CountDocuments(cmd.Context())
			if err != nil {
				return err
			}
			vectors, err := store.CountVectors(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Index:     %s\nDocuments: %d\nVectors:   %d\n", store.Index(), docs, vectors)
			return nil
		},
	}
}

func newDropCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Delete the index and all of its documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("refusing to drop index %s without --yes", a.cfg.Marqo.Index)
			}
			store, err := a.openStore(cmd.Context(), nil)
			if err != nil {
				return err
			}
			if err := store.DropIndex(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Dropped index %s\n", store.Index())
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the drop")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		// No config or logger needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func parseFilters(s string) (marqo.Filters, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var f marqo.Filters
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return nil, fmt.Errorf("invalid filters JSON: %w", err)
	}
	if _, err := f.FilterString(); err != nil {
		return nil, err
	}
	return f, nil
}

// printHits writes one line per document: its metadata and its score.
func printHits(w io.Writer, docs []marqo.Document) {
	if len(docs) == 0 {
		fmt.Fprintln(w, "  (no results)")
		return
	}
	for _, d := range docs {
		score := "-"
		if d.Score != nil {
			score = fmt.Sprintf("%.4f", *d.Score)
		}
		fmt.Fprintf(w, "  %s %s\n", formatMeta(d.Metadata), score)
	}
}

func formatMeta(meta map[string]any) string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, meta[k])
	}
	return "{" + strings.Join(parts, " ") + "}"
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
