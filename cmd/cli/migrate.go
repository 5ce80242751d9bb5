package cli

import (
	"pipecrm/internal/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.Load()
		logger := logrus.StandardLogger()

		db, err := openDatabase(cfg)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		if err := migrate(db); err != nil {
			logger.Fatalf("Failed to migrate database: %v", err)
		}
		logger.Info("Migrations applied")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
