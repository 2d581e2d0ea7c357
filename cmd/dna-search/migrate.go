package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/dnasearch/internal/config"
	"github.com/bigkaa/dnasearch/internal/database"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Миграции схемы БД",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Применить все миграции",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
			}
			return database.Migrate(cfg, config.SetupLogger(cfg))
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Откатить последние миграции",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return fmt.Errorf("ошибка загрузки конфигурации: %w", err)
			}
			return database.Rollback(cfg, steps, config.SetupLogger(cfg))
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "количество откатываемых миграций")
	cmd.AddCommand(down)

	return cmd
}
