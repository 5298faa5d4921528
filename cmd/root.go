// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is the databaser version
var Version = "development"

func init() {
	viper.SetEnvPrefix("DATABASER")
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("key-table", "", "Root table defining the slice to replicate")
	rootCmd.PersistentFlags().String("key-values", "", "Comma-separated seed identifiers in the key table")
	rootCmd.PersistentFlags().String("storage-table", "storage_data", "Scratch table name for the database-backed key store")
	rootCmd.PersistentFlags().String("log-level", "INFO", "Log level")

	viper.BindPFlag("KEY_TABLE_NAME", rootCmd.PersistentFlags().Lookup("key-table"))
	viper.BindPFlag("KEY_COLUMN_VALUES", rootCmd.PersistentFlags().Lookup("key-values"))
	viper.BindPFlag("STORAGE_TABLE_NAME", rootCmd.PersistentFlags().Lookup("storage-table"))
	viper.BindPFlag("LOG_LEVEL", rootCmd.PersistentFlags().Lookup("log-level"))
}

var rootCmd = &cobra.Command{
	Use:          "databaser",
	Short:        "Selective partial replication of a Postgres database",
	SilenceUsage: true,
	Version:      Version,
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(runCmd())

	return rootCmd.Execute()
}
