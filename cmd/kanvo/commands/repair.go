package commands

import (
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/priyankagnana/Kanvo/api"
	"github.com/priyankagnana/Kanvo/config"
	"github.com/priyankagnana/Kanvo/domain"
	"github.com/priyankagnana/Kanvo/repair"
	"github.com/priyankagnana/Kanvo/storage"
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Compact every scope waiting in the repair queue, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.ValidateStorage(); err != nil {
			return err
		}
		s := cfg.Storage
		store, err := storage.New(s.ConnectionString, s.BoardsTable, s.SectionsTable, s.TasksTable, s.RepairQueue)
		if err != nil {
			return err
		}
		worker := repair.NewWorker(store, domain.NewRepairer(store))
		if cfg.Redis.ConnectionString != "" {
			opts, err := config.ParseRedisOptions(cfg.Redis.ConnectionString)
			if err != nil {
				return err
			}
			rc := redis.NewClient(opts)
			defer rc.Close()
			views := domain.NewBoardService(store, domain.NewReindexer(store, nil))
			worker.Cache = storage.NewCache(views, rc, cfg.Redis.CacheTTL)
			worker.Updates = api.NewRedisPublisher(rc, cfg.Redis.UpdatesChannel)
		}
		printStep("draining %s", s.RepairQueue)
		n, err := worker.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("repaired %d scopes", n)
		return nil
	},
}
