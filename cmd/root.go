// Package cmd — командная строка сервиса: serve (по умолчанию) и migrate.
package cmd

import (
	"fmt"
	"os"

	"provision/config"
	"provision/internal/db"
	"provision/internal/logs"
	"provision/server"

	"github.com/spf13/cobra"
)

func defaultConfigPath() string {
	if p := os.Getenv("PROVISION_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// NewRootCommand собирает дерево команд. Без подкоманды выполняется serve.
func NewRootCommand() *cobra.Command {
	var cfgPath string

	load := func() (*config.Config, error) {
		return config.Load(cfgPath)
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the provisioning HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			app := &server.App{}
			if err := app.Initialize(cfg, nil); err != nil {
				return err
			}
			return app.Run()
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Create/upgrade tables and rewrite stored MAC addresses to canonical form",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			logs.Init(logs.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File})
			if cfg.Database.Driver == "" {
				return fmt.Errorf("database.driver is not set")
			}
			g, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
			if err != nil {
				return err
			}
			if err := db.AutoMigrate(g); err != nil {
				return err
			}
			n, err := db.NormalizeStoredMACs(g)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated; %d mac address(es) normalized\n", n)
			return nil
		},
	}

	root := &cobra.Command{
		Use:           "provision",
		Short:         "Device provisioning server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath(), "path to config file (YAML)")
	root.AddCommand(serve, migrate)
	return root
}

// Execute запускает корневую команду.
func Execute() error {
	return NewRootCommand().Execute()
}
