package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/farellandr/enrollhub/config"
	"github.com/farellandr/enrollhub/migrations"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|status|down]",
		Short:     "Apply or inspect schema migrations",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"up", "status", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}

			dbCfg, err := config.LoadDatabase()
			if err != nil {
				return err
			}
			db, err := sql.Open("pgx", dbCfg.DSN())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			goose.SetBaseFS(migrations.FS)
			if err := goose.SetDialect("postgres"); err != nil {
				return err
			}

			ctx := cmd.Context()
			switch direction {
			case "up":
				return goose.UpContext(ctx, db, ".")
			case "status":
				return goose.StatusContext(ctx, db, ".")
			case "down":
				return goose.DownContext(ctx, db, ".")
			default:
				return fmt.Errorf("unknown direction %q, want up, status or down", direction)
			}
		},
	}
}
