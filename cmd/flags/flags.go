// SPDX-License-Identifier: Apache-2.0

package flags

import (
	"github.com/spf13/viper"

	"github.com/ISMashtakov/databaser/internal/connstr"
	"github.com/ISMashtakov/databaser/pkg/config"
)

func srcParams() connstr.Params {
	return connstr.Params{
		Host:     viper.GetString("SRC_DB_HOST"),
		Port:     viper.GetString("SRC_DB_PORT"),
		Schema:   viper.GetString("SRC_DB_SCHEMA"),
		DBName:   viper.GetString("SRC_DB_NAME"),
		User:     viper.GetString("SRC_DB_USER"),
		Password: viper.GetString("SRC_DB_PASSWORD"),
	}
}

func dstParams() connstr.Params {
	return connstr.Params{
		Host:     viper.GetString("DST_DB_HOST"),
		Port:     viper.GetString("DST_DB_PORT"),
		Schema:   viper.GetString("DST_DB_SCHEMA"),
		DBName:   viper.GetString("DST_DB_NAME"),
		User:     viper.GetString("DST_DB_USER"),
		Password: viper.GetString("DST_DB_PASSWORD"),
	}
}

// Config assembles the resolved configuration from the bound flags and
// DATABASER_-prefixed environment variables.
func Config() *config.Config {
	return &config.Config{
		Src: srcParams(),
		Dst: dstParams(),

		KeyTableName:            viper.GetString("KEY_TABLE_NAME"),
		KeyColumnNames:          config.SplitList(viper.GetString("KEY_COLUMN_NAMES")),
		KeyColumnValues:         config.SplitList(viper.GetString("KEY_COLUMN_VALUES")),
		KeyTableHierarchyColumn: viper.GetString("KEY_TABLE_HIERARCHY_COLUMN_NAME"),

		ExcludedTables:  config.SplitList(viper.GetString("EXCLUDED_TABLES")),
		GenericFKTables: config.SplitList(viper.GetString("TABLES_WITH_GENERIC_FOREIGN_KEY")),

		TablesLimitPerTransaction: viper.GetInt("TABLES_LIMIT_PER_TRANSACTION"),

		IsTruncateTables:       viper.GetBool("IS_TRUNCATE_TABLES"),
		TablesTruncateIncluded: config.SplitList(viper.GetString("TABLES_TRUNCATE_INCLUDED")),
		TablesTruncateExcluded: config.SplitList(viper.GetString("TABLES_TRUNCATE_EXCLUDED")),

		FullTransferTables: config.SplitList(viper.GetString("FULL_TRANSFER_TABLES")),

		UseDatabaseStore: viper.GetBool("USE_DATABASE_FOR_STORE_INTERMEDIATE_VALUES"),
		StorageTableName: viper.GetString("STORAGE_TABLE_NAME"),

		CollectorChunkSize:         viper.GetInt("COLLECTOR_CHUNK_SIZE"),
		AsyncSeparationCoefficient: viper.GetInt("ASYNC_SEPARATION_COEFFICIENT"),

		ValidateBeforeTransferring: viper.GetBool("VALIDATE_DATA_BEFORE_TRANSFERRING"),
		TestMode:                   viper.GetBool("TEST_MODE"),

		LogLevel:     viper.GetString("LOG_LEVEL"),
		LogDirectory: viper.GetString("LOG_DIRECTORY"),
		LogFilename:  viper.GetString("LOG_FILENAME"),
	}
}
