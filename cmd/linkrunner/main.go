// Command linkrunner runs the link campaign engine and its maintenance tools.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"linkrunner/internal/config"
	"linkrunner/internal/storage"
	logx "linkrunner/pkg/logx"
)

var cfgPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "linkrunner",
		Short:         "Bulk link widget campaigns for WordPress sites",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./linkrunner.yaml", "path to config (yaml or json)")

	root.AddCommand(
		newServeCmd(),
		newStateCmd(),
		newCampaignCmd(),
		newProxiesCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

// openState loads the config and opens the configured store for one-shot
// commands. The caller closes the store.
func openState() (*config.Config, *storage.Store, logx.Logger, error) {
	cfg, err := config.NewManager(cfgPath).Parse()
	if err != nil {
		return nil, nil, logx.Logger{}, err
	}
	log := logx.NewConsole(cfg.Logging.Level)
	store, err := storage.Open(cfg.StorageConfig(), log)
	if err != nil {
		return nil, nil, logx.Logger{}, fmt.Errorf("open state: %w", err)
	}
	return cfg, store, log, nil
}
