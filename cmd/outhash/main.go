package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/vormadev/outhash/kit/colorlog"
)

var (
	configFlag   string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "outhash",
	Short: "Content-addressed file names for finished build outputs",
	Long: `outhash renames build outputs after a digest of their final bytes and
rewrites every reference to the old names, dependencies before dependents.

Examples:
  outhash run --plan plan.yaml --out dist     # rehash files listed in a plan
  outhash build --entry src/main.js            # bundle with esbuild, then rehash
  outhash validate --dir dist                  # check names against contents
  outhash watch --plan plan.yaml               # rerun on every change`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default: ./outhash.{json,yaml,toml})")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn or error (overrides log.level)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log := colorlog.New("outhash")
		log.Error(err.Error())
		for _, hint := range errors.GetAllHints(err) {
			log.Info("hint: " + hint)
		}
		os.Exit(1)
	}
}
