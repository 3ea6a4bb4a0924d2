// Package cli defines the cobra command tree for visit-tracker.
package cli

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/go-visit-tracker/internal/config"
	"github.com/tbourn/go-visit-tracker/internal/repo"
)

var (
	flagFormat   string
	flagEnvFiles []string
)

// NewRootCmd creates the root cobra command with global flags.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "visit-tracker",
		Short:         "Track field-sales visits",
		Long:          "Backend for registering restaurant visits with duplicate and overlap detection, projects, leaderboards and Fletcher APK checklists.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(flagEnvFiles...)
		},
	}

	root.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format (text|json)")
	root.PersistentFlags().StringSliceVar(&flagEnvFiles, "env-file", []string{".env"}, "dotenv files to load before reading the environment")

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newProfileCmd(),
		newChecklistCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)

	return root
}

// openDB loads the configuration, opens the database and migrates it.
func openDB() (*gorm.DB, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, err
	}
	db, err := repo.Open(cfg.DB)
	if err != nil {
		return nil, cfg, err
	}
	if err := repo.AutoMigrate(db); err != nil {
		closeDB(db)
		return nil, cfg, err
	}
	return db, cfg, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// isJSON returns true if the --format flag is set to json.
func isJSON() bool {
	return flagFormat == "json"
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
