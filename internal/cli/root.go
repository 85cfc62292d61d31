package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configFile string
	verbose    bool
	log        = zap.NewNop().Sugar()
)

var rootCmd = &cobra.Command{
	Use:   "medic",
	Short: "medic — an autonomous build-repair loop",
	Long: `medic runs your build, fingerprints the failure, asks a local or remote
LLM backend for a fix, applies it with backups, and commits each applied
fix to a dedicated branch — looping until the build passes, the iteration
budget runs out, or a failure starts oscillating.

Run history is stored in ~/.medic/ (SQLite).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zc := zap.NewProductionConfig()
		zc.DisableStacktrace = true
		if verbose {
			zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		}
		logger, err := zc.Build()
		if err != nil {
			return err
		}
		log = logger.Sugar()
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "f", "", "path to medic config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(configCmd)
}
