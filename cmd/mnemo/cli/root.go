package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/felixgeelhaar/mnemo/internal/config"
	"github.com/felixgeelhaar/mnemo/internal/observe"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	configPath string
	dataDir    string
	verbose    bool
	jsonLogs   bool
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "mnemo",
	Short: "Background memory store",
	Long: `Mnemo records short, mid and long term memories, ranks them by relevance
and freshness, and persists them in the background without blocking.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; it usually only carries API keys
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (.yaml or .json)")
	RootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", "", "Data directory (overrides config)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "Log as JSON")
}

// loadConfig resolves defaults, the config file, MNEMO_* variables and
// flags, in that order.
func loadConfig() (config.Config, error) {
	cfg := config.Default
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	cfg.ApplyEnv(os.LookupEnv)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return cfg, cfg.Validate()
}

func newObserver() *observe.Observer {
	if jsonLogs {
		return observe.NewJSON(os.Stderr, verbose)
	}
	return observe.New(os.Stderr, verbose)
}

// newRunner loads the configuration and builds a Runner for a command.
func newRunner() (*Runner, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return NewRunner(newObserver(), cfg), nil
}
