package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/farellandr/enrollhub/config"
	"github.com/farellandr/enrollhub/internal/auth"
	"github.com/farellandr/enrollhub/internal/repository"
)

func recountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recount <batch-id>",
		Short: "Rebuild a batch's enrolled counter from its paid enrollments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id: %w", err)
			}

			dbCfg, err := config.LoadDatabase()
			if err != nil {
				return err
			}
			db, err := config.InitDatabase(dbCfg)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			enrolled, err := repository.NewBatchRepository(db).Recount(cmd.Context(), batchID)
			if err != nil {
				return fmt.Errorf("recount %s: %w", batchID, err)
			}
			fmt.Printf("batch %s enrolled=%d\n", batchID, enrolled)
			return nil
		},
	}
}

func adminTokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a bearer token for the admin endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg, err := config.LoadAuth()
			if err != nil {
				return err
			}
			token, err := auth.NewIssuer(authCfg.JWTSecret).CreateToken(subject, auth.RoleAdmin, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "ops", "who the token is issued to")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
