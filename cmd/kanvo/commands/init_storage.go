package commands

import (
	"github.com/spf13/cobra"

	"github.com/priyankagnana/Kanvo/storage"
)

var initStorageCmd = &cobra.Command{
	Use:   "init-storage",
	Short: "Create the tables and the repair queue if they are missing",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateStorage(); err != nil {
			return err
		}
		s := cfg.Storage
		printStep("creating tables")
		if err := storage.EnsureTables(cmd.Context(), s.ConnectionString, s.BoardsTable, s.SectionsTable, s.TasksTable); err != nil {
			return err
		}
		printStep("creating queues")
		if err := storage.EnsureQueues(cmd.Context(), s.ConnectionString, s.RepairQueue); err != nil {
			return err
		}
		printSuccess("storage ready")
		return nil
	},
}
