package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mediacore/internal/apperrors"
	"mediacore/internal/catalog"
	"mediacore/internal/embedder"
	"mediacore/internal/idx"
	"mediacore/internal/jobs"
	"mediacore/internal/store/sqlite"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Reindex catalog items into ScoringProfile/EmbeddingRecord",
	}
	cmd.AddCommand(newIndexAllCmd())
	cmd.AddCommand(newIndexItemCmd())
	cmd.AddCommand(newReindexIfRecipeChangedCmd())
	cmd.AddCommand(newIndexProvenanceCmd())
	return cmd
}

func newIndexProvenanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provenance",
		Short: "List item counts per (chunk recipe, embedder model) pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.Open(app.cfg.Store.SQLitePath)
			if err != nil {
				return err
			}
			records, err := store.ListProvenance(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Println("no provenance recorded")
				return nil
			}
			for _, r := range records {
				fmt.Printf("%s / %s: %d items\n", r.ChunkRecipeID, r.EmbedderModelID, r.ItemCount)
			}
			return nil
		},
	}
}

func newIndexer() (*idx.Indexer, *sqlite.Store, error) {
	store, err := sqlite.Open(app.cfg.Store.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	emb := embedder.New("", "nomic-embed-text", 768, 10*time.Second)
	vectors := sqlite.NewVectorStore(store)
	return idx.New(store, emb, vectors), store, nil
}

func newIndexAllCmd() *cobra.Command {
	var filterLanguage string
	cmd := &cobra.Command{
		Use:   "all",
		Short: "Reindex every catalog item matching an optional filter",
		RunE: func(cmd *cobra.Command, args []string) error {
			indexer, store, err := newIndexer()
			if err != nil {
				return err
			}
			runner := jobs.New(indexer, store)
			filter := catalog.Filter{Language: filterLanguage}
			report, err := runner.RunBulkReindex(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Printf("reindexed %d/%d items (%d failed)\n", report.Succeeded, report.Total, report.Failed)
			for _, r := range report.Results {
				if r.Err != nil {
					fmt.Printf("  %s: %v\n", r.ItemID, r.Err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filterLanguage, "language", "", "restrict to items in this language")
	return cmd
}

func newReindexIfRecipeChangedCmd() *cobra.Command {
	var filterLanguage string
	cmd := &cobra.Command{
		Use:   "reindex-if-recipe-changed",
		Short: "Reindex only items whose EmbeddingRecord predates the current chunk recipe",
		RunE: func(cmd *cobra.Command, args []string) error {
			indexer, store, err := newIndexer()
			if err != nil {
				return err
			}
			runner := jobs.New(indexer, store)
			filter := catalog.Filter{Language: filterLanguage}
			report, err := runner.RunReindexIfRecipeChanged(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Printf("reindexed %d/%d stale items (%d failed)\n", report.Succeeded, report.Total, report.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&filterLanguage, "language", "", "restrict to items in this language")
	return cmd
}

func newIndexItemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "item <id>",
		Short: "Reindex a single catalog item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			indexer, _, err := newIndexer()
			if err != nil {
				return err
			}
			if err := indexer.Reindex(cmd.Context(), args[0]); err != nil {
				return apperrors.Wrap(apperrors.KindInternal, err, "reindex %s", args[0])
			}
			fmt.Printf("reindexed %s\n", args[0])
			return nil
		},
	}
}
