package main

import (
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/qiita/qiita-ware/internal/config"
	"github.com/qiita/qiita-ware/internal/store"
	"github.com/qiita/qiita-ware/pkg/migrations"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate the db",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		_, done := initLogger(cfg)
		defer done()

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			return err
		}

		s := store.NewStore(db)
		defer s.Close()

		if cfg.Database.Type != "pgsql" {
			zap.S().Info("Running gorm auto migration")
			return s.InitialMigration(cmd.Context())
		}

		if cfg.Service.MigrationFolder == "" {
			return errors.New("QIITA_MIGRATIONS_FOLDER is required to migrate postgres")
		}

		pgPool, err := pgxpool.New(cmd.Context(), store.DSN(cfg))
		if err != nil {
			return err
		}
		defer pgPool.Close()

		if err := migrations.MigrateStore(cmd.Context(), db, cfg.Service.MigrationFolder, pgPool); err != nil {
			return err
		}

		zap.S().Info("Db migrated")
		return nil
	},
}
