package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/livelaunch/platform/pkg/common/database"
	"github.com/livelaunch/platform/pkg/common/logger"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if root.cfg.CacheBackend == "memory" {
				return fmt.Errorf("nothing to migrate for the memory backend")
			}
			st, err := openStorage(root.cfg)
			if err != nil {
				return err
			}
			defer database.ClosePostgres()
			if err := st.migrate(); err != nil {
				return err
			}
			logger.Log.Info("Migrations applied")
			return nil
		},
	}
}
