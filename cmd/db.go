package cmd

import (
	"strconv"

	migrate "github.com/rubenv/sql-migrate"
	"github.com/spf13/cobra"
	"github.com/stellar/go-stellar-sdk/support/log"

	cmdUtils "github.com/abdulrahimiqbal/RoluATM-sub000/cmd/utils"
	"github.com/abdulrahimiqbal/RoluATM-sub000/db"
)

const DBConfigOptionFlagName = "database-url"

type DatabaseCommand struct{}

func (c *DatabaseCommand) Command(globalOptions *cmdUtils.GlobalOptionsType) *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database related commands",
		Run: func(cmd *cobra.Command, _ []string) {
			err := cmd.Help()
			if err != nil {
				log.Fatalf("Error calling help command: %s", err.Error())
			}
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Schema migration helpers",
		Run: func(cmd *cobra.Command, _ []string) {
			err := cmd.Help()
			if err != nil {
				log.Fatalf("Error calling help command: %s", err.Error())
			}
		},
	}
	dbCmd.AddCommand(migrateCmd)

	migrateUpCmd := &cobra.Command{
		Use:   "up",
		Short: "Migrates database up [count] migrations",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			c.runMigration(cmd, args, globalOptions.DatabaseURL, migrate.Up)
		},
	}
	migrateCmd.AddCommand(migrateUpCmd)

	migrateDownCmd := &cobra.Command{
		Use:   "down [count]",
		Short: "Migrates database down [count] migrations",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			c.runMigration(cmd, args, globalOptions.DatabaseURL, migrate.Down)
		},
	}
	migrateCmd.AddCommand(migrateDownCmd)

	return dbCmd
}

func (c *DatabaseCommand) runMigration(cmd *cobra.Command, args []string, databaseURL string, dir migrate.MigrationDirection) {
	ctx := cmd.Context()

	count := 0
	if len(args) > 0 {
		var err error
		count, err = strconv.Atoi(args[0])
		if err != nil {
			log.Ctx(ctx).Fatalf("Invalid [count] argument: %s", args[0])
		}
	}

	applied, err := db.Migrate(databaseURL, dir, count)
	if err != nil {
		log.Ctx(ctx).Fatalf("Error migrating database: %s", err.Error())
	}

	if applied == 0 {
		log.Ctx(ctx).Info("No migrations applied.")
	} else {
		log.Ctx(ctx).Infof("Successfully applied %d migrations.", applied)
	}
}
