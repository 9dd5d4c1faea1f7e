package cli

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/iotaudit/internal/db"
)

var migrateStatusOnly bool

// migrateCmd applies the embedded PostgreSQL migrations.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply pending PostgreSQL schema migrations using the database settings
from the configuration. With --status the applied state of every migration
is listed instead.`,
	Example: `  iotaudit migrate
  iotaudit migrate --status`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().BoolVar(&migrateStatusOnly, "status", false, "list migrations without applying them")
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger := initLogging(cfg)
	ctx := cmd.Context()

	database, err := db.Connect(ctx, &cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()

	migrator := db.NewMigrator(database.DB)
	if !migrateStatusOnly {
		applied, err := migrator.Up(ctx)
		if err != nil {
			return err
		}
		logger.Info("Migrations applied", "count", len(applied))
		for _, name := range applied {
			fmt.Fprintf(os.Stdout, "Applied %s\n", name)
		}
	}

	statuses, err := migrator.Status(ctx)
	if err != nil {
		return err
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Migration", "Applied", "Applied At", "Checksum")
	for _, st := range statuses {
		appliedAt, checksum := "", "ok"
		if st.Applied {
			appliedAt = st.AppliedAt.Format("2006-01-02 15:04")
		}
		if st.ChecksumMismatch {
			checksum = "MODIFIED"
		}
		_ = table.Append([]string{st.Name, fmt.Sprintf("%t", st.Applied), appliedAt, checksum})
	}
	return table.Render()
}
