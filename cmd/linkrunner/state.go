package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and repair stored documents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "recover",
		Short: "Apply crash recovery to stored runs and projects",
		Long: "Parks records left running by a crash, clears run flags and rewrites " +
			"whatever changed. Do not run it while serve is running.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, _, err := openState()
			if err != nil {
				return err
			}
			defer store.Close()

			rep, err := store.Recover(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(rep.Runs) == 0 && rep.Projects == 0 {
				fmt.Fprintln(out, "nothing to recover")
				return nil
			}
			for _, m := range rep.Runs {
				fmt.Fprintf(out, "run %s recovered\n", m)
			}
			fmt.Fprintf(out, "projects recovered: %d\n", rep.Projects)
			return nil
		},
	})
	return cmd
}
