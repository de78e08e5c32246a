package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironkey/internal/config"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

var (
	configPath string

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ironkey",
	Short: "IronKey is a zero-knowledge password manager",
	Long: `A zero-knowledge password manager client. Entries are encrypted on this
machine before they are sent to the server, and the master password never
leaves it.
Complete documentation is available at https://github.com/jmcleod/ironkey`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
		logger = cfg.NewLogger(os.Stderr)
		slog.SetDefault(logger)
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a TOML configuration file")
	rootCmd.Version = Version
}
