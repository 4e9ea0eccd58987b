package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"linkrunner/internal/app"
)

func newProxiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Proxy tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Probe every configured proxy and store the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, log, err := openState()
			if err != nil {
				return err
			}
			defer store.Close()

			results, err := app.NewProxyTester(store, cfg, log).TestAll(cmd.Context())
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%-28s %s\n", r.Proxy.Addr(), r.Status())
			}
			return err
		},
	})
	return cmd
}
