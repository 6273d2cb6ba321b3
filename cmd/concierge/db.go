package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/concierge/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Concierge database",
		Long:  "Migrates all tables and seeds websites and their knowledge settings from the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Concierge config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s database\n", cfg.Database.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedWebsites(gormDB, cfg.Websites, cfg.Knowledge.DefaultThreshold); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d websites:", len(cfg.Websites))
	for _, w := range cfg.Websites {
		fmt.Fprintf(out, " %s", w.ID)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "\nConcierge database initialized successfully.")
	return nil
}
