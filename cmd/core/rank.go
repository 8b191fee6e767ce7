package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mediacore/internal/apperrors"
	"mediacore/internal/catalog"
	"mediacore/internal/cr"
	"mediacore/internal/jobs"
	"mediacore/internal/store/sqlite"
)

func newRankCmd() *cobra.Command {
	var presetPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank catalog items against a criteria config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if presetPath == "" {
				return apperrors.New(apperrors.KindInputInvalid, "--preset is required")
			}
			raw, err := os.ReadFile(presetPath)
			if err != nil {
				return apperrors.Wrap(apperrors.KindInputInvalid, err, "read preset %s", presetPath)
			}
			var config cr.Config
			if err := json.Unmarshal(raw, &config); err != nil {
				return apperrors.Wrap(apperrors.KindInputInvalid, err, "parse preset %s", presetPath)
			}

			store, err := sqlite.Open(app.cfg.Store.SQLitePath)
			if err != nil {
				return err
			}

			var results []cr.ScoredItem
			err = jobs.RecordJob(cmd.Context(), store, "rank", func(ctx context.Context) error {
				candidates, err := loadCandidates(ctx, store)
				if err != nil {
					return err
				}
				results, err = cr.RankWithThreshold(candidates, config, app.cfg.CR.PreFilterThreshold)
				return err
			})
			if err != nil {
				return err
			}
			if limit > 0 && len(results) > limit {
				results = results[:limit]
			}
			for _, r := range results {
				fmt.Printf("%-24s score=%.3f matched=%v\n", r.ItemID, r.Score, r.MatchedCriteria)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&presetPath, "preset", "", "path to a JSON-encoded cr.Config")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results to print")
	return cmd
}

func loadCandidates(ctx context.Context, store *sqlite.Store) ([]cr.Candidate, error) {
	var out []cr.Candidate
	cursor := catalog.Cursor{}
	for {
		items, next, more, err := store.IterItems(ctx, catalog.Filter{}, cursor)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			profile, err := store.GetScoringProfile(ctx, item.ID)
			if err != nil || profile == nil {
				continue
			}
			out = append(out, cr.Candidate{Profile: *profile, ReleaseDate: item.ReleaseDate.Unix()})
		}
		if !more {
			break
		}
		cursor = next
	}
	return out, nil
}
