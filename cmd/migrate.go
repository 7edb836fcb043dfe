package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgeworks/forge/internal/config"
	"github.com/forgeworks/forge/internal/store"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the local audit database schema",
	}

	openStore := func() (*store.DB, error) {
		cfg, err := config.Load(resolveConfigPath())
		if err != nil {
			return nil, err
		}
		dataDir := cfg.ResolvedDataDir()
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, err
		}
		return store.Open(filepath.Join(dataDir, "forge.db"))
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := db.SchemaVersion()
			if err != nil {
				return err
			}
			fmt.Printf("schema at version %d (dirty=%t)\n", version, dirty)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			version, dirty, err := db.SchemaVersion()
			if err != nil {
				return err
			}
			status := "clean"
			if dirty {
				status = "dirty"
			}
			fmt.Printf("version %d (%s)\n", version, status)
			return nil
		},
	})

	return cmd
}
