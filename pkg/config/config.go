// SPDX-License-Identifier: Apache-2.0

// Package config holds the resolved configuration consumed by the engine.
// Resolution itself (env vars, flags) happens in cmd via viper; the core only
// ever sees a validated Config value.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ISMashtakov/databaser/internal/connstr"
)

const (
	DefaultTablesLimitPerTransaction = 100
	DefaultCollectorChunkSize        = 60000
	DefaultStorageTableName          = "storage_data"
)

// Config is the fully resolved configuration for one replication run.
type Config struct {
	Src connstr.Params
	Dst connstr.Params

	KeyTableName            string
	KeyColumnNames          []string
	KeyColumnValues         []string
	KeyTableHierarchyColumn string

	ExcludedTables  []string
	GenericFKTables []string

	TablesLimitPerTransaction int

	IsTruncateTables       bool
	TablesTruncateIncluded []string
	TablesTruncateExcluded []string

	FullTransferTables []string

	UseDatabaseStore bool
	StorageTableName string

	CollectorChunkSize         int
	AsyncSeparationCoefficient int

	ValidateBeforeTransferring bool
	TestMode                   bool

	LogLevel     string
	LogDirectory string
	LogFilename  string
}

// ApplyDefaults fills zero values with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Src.Schema == "" {
		c.Src.Schema = "public"
	}
	if c.Dst.Schema == "" {
		c.Dst.Schema = "public"
	}
	if c.TablesLimitPerTransaction <= 0 {
		c.TablesLimitPerTransaction = DefaultTablesLimitPerTransaction
	}
	if c.CollectorChunkSize <= 0 {
		c.CollectorChunkSize = DefaultCollectorChunkSize
	}
	if c.StorageTableName == "" {
		c.StorageTableName = DefaultStorageTableName
	}
	if c.AsyncSeparationCoefficient == 0 {
		c.AsyncSeparationCoefficient = -1
	}
}

// Validate reports every missing required parameter at once. Key column
// values must parse as integers.
func (c *Config) Validate() error {
	var missing []string

	required := []struct {
		name  string
		value string
	}{
		{"SRC_DB_HOST", c.Src.Host},
		{"SRC_DB_PORT", c.Src.Port},
		{"SRC_DB_NAME", c.Src.DBName},
		{"SRC_DB_USER", c.Src.User},
		{"SRC_DB_PASSWORD", c.Src.Password},
		{"DST_DB_HOST", c.Dst.Host},
		{"DST_DB_PORT", c.Dst.Port},
		{"DST_DB_NAME", c.Dst.DBName},
		{"DST_DB_USER", c.Dst.User},
		{"DST_DB_PASSWORD", c.Dst.Password},
		{"KEY_TABLE_NAME", c.KeyTableName},
	}

	for _, p := range required {
		if p.value == "" {
			missing = append(missing, p.name)
		}
	}
	if len(c.KeyColumnNames) == 0 {
		missing = append(missing, "KEY_COLUMN_NAMES")
	}
	if len(c.KeyColumnValues) == 0 {
		missing = append(missing, "KEY_COLUMN_VALUES")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required parameters: %s", strings.Join(missing, ", "))
	}

	for _, v := range c.KeyColumnValues {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("key column value %q is not an integer", v)
		}
	}

	return nil
}

// SplitList parses a comma-separated environment value, trimming spaces and
// dropping empty elements.
func SplitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// Contains reports whether name is in the list.
func Contains(list []string, name string) bool {
	for _, item := range list {
		if item == name {
			return true
		}
	}
	return false
}
