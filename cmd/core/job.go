package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mediacore/internal/apperrors"
	"mediacore/internal/store/sqlite"
)

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect recorded job runs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status <id>",
		Short: "Show a recorded JobRun by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sqlite.Open(app.cfg.Store.SQLitePath)
			if err != nil {
				return err
			}
			run, err := store.GetJobRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if run == nil {
				return apperrors.New(apperrors.KindNotFound, "no job run recorded for %s", args[0])
			}
			fmt.Printf("id=%s kind=%s status=%s succeeded=%d failed=%d total=%d\n",
				run.ID, run.Kind, run.Status, run.Succeeded, run.Failed, run.Total)
			if run.Error != "" {
				fmt.Printf("error: %s\n", run.Error)
			}
			return nil
		},
	})
	return cmd
}
