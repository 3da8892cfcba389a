package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(root *rootOptions) *cobra.Command {
	var (
		version uint
		force   int
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply output store migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, root.envFile)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			if err := a.connect(ctx, needs{output: true, skipMigrations: true}); err != nil {
				return err
			}
			if err := a.migrationService(version, force).MigrateDB(a.output); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().UintVar(&version, "version", 0, "migrate to this version instead of the latest")
	cmd.Flags().IntVar(&force, "force", 0, "force this version before migrating, clearing a dirty state")
	return cmd
}
