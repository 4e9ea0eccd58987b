package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"linkrunner/internal/campaign"
)

func newCampaignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "campaign",
		Short: "Campaign tools",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "plan [project-id...]",
		Short: "Show the campaign a project would materialize, without saving",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, _, err := openState()
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			projects, err := store.LoadProjects(ctx)
			if err != nil {
				return err
			}
			pools, err := store.LoadPools(ctx)
			if err != nil {
				return err
			}

			want := map[string]bool{}
			for _, id := range args {
				want[id] = true
			}
			out := cmd.OutOrStdout()
			now := time.Now()
			shown := 0
			for _, p := range projects {
				if len(want) > 0 && !want[p.ID] {
					continue
				}
				shown++
				c, err := campaign.Materialize(p.Config, pools, now)
				if err != nil {
					fmt.Fprintf(out, "%s (%s): %v\n", p.Name, p.ID, err)
					continue
				}
				fmt.Fprintf(out, "%s (%s): %s\n", p.Name, p.ID, campaign.Describe(c))
			}
			if shown == 0 {
				return fmt.Errorf("no matching projects")
			}
			return nil
		},
	})
	return cmd
}
