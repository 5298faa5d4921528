// SPDX-License-Identifier: Apache-2.0

package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ISMashtakov/databaser/internal/connstr"
	"github.com/ISMashtakov/databaser/pkg/config"
)

func validConfig() *config.Config {
	params := connstr.Params{
		Host:     "localhost",
		Port:     "5432",
		DBName:   "app",
		User:     "postgres",
		Password: "secret",
	}
	return &config.Config{
		Src:             params,
		Dst:             params,
		KeyTableName:    "tenants",
		KeyColumnNames:  []string{"tenant_id"},
		KeyColumnValues: []string{"7"},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateReportsEveryMissingParameter(t *testing.T) {
	cfg := validConfig()
	cfg.Src.Host = ""
	cfg.Dst.Password = ""
	cfg.KeyColumnValues = nil

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SRC_DB_HOST")
	assert.Contains(t, err.Error(), "DST_DB_PASSWORD")
	assert.Contains(t, err.Error(), "KEY_COLUMN_VALUES")
}

func TestValidateRejectsNonIntegerKeyValues(t *testing.T) {
	cfg := validConfig()
	cfg.KeyColumnValues = []string{"7", "acme"}

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), `"acme"`)
}

func TestApplyDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.ApplyDefaults()

	assert.Equal(t, "public", cfg.Src.Schema)
	assert.Equal(t, "public", cfg.Dst.Schema)
	assert.Equal(t, config.DefaultTablesLimitPerTransaction, cfg.TablesLimitPerTransaction)
	assert.Equal(t, config.DefaultCollectorChunkSize, cfg.CollectorChunkSize)
	assert.Equal(t, config.DefaultStorageTableName, cfg.StorageTableName)
	assert.Equal(t, -1, cfg.AsyncSeparationCoefficient)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, config.SplitList("a, b ,c,"))
	assert.Nil(t, config.SplitList(""))
	assert.Nil(t, config.SplitList(" , "))
}
