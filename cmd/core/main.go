// Command core is the CLI surface over IDX/SIM/CR/CAG, grounded on
// Nomadcxx-jellywatch's cobra root command layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mediacore/internal/apperrors"
	"mediacore/internal/config"
	"mediacore/internal/logging"
)

var (
	cfgFile string
	app     *appContext
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "core",
		Short: "Local-first media discovery engine: index, retrieve, rank and generate",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mediacore.json)")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(newCacheCmd())
	rootCmd.AddCommand(newRankCmd())
	rootCmd.AddCommand(newGenerateCmd())
	rootCmd.AddCommand(newJobCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(apperrors.ExitCode(err))
	}
}

// appContext holds the wired collaborators shared by every subcommand,
// assembled once in PersistentPreRunE.
type appContext struct {
	cfg config.Configuration
}

func initApp() error {
	svc := config.NewService(cfgFile)
	if err := svc.Load(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return apperrors.New(apperrors.KindInputInvalid, "load configuration: %v", err)
	}
	cfg := svc.Get()
	logging.Initialize(cfg.App.LogLevel)
	app = &appContext{cfg: cfg}
	return nil
}
