// SPDX-License-Identifier: Apache-2.0

package connstr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ISMashtakov/databaser/internal/connstr"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		Name     string
		Params   connstr.Params
		Expected string
	}{
		{
			Name: "all parameters are rendered in template order",
			Params: connstr.Params{
				Host:     "localhost",
				Port:     "5432",
				DBName:   "app",
				User:     "postgres",
				Password: "secret",
			},
			Expected: "host=localhost port=5432 dbname=app user=postgres password=secret",
		},
		{
			Name: "schema is not part of the connection string",
			Params: connstr.Params{
				Host:     "db.internal",
				Port:     "6432",
				Schema:   "public",
				DBName:   "app",
				User:     "replicator",
				Password: "pw",
			},
			Expected: "host=db.internal port=6432 dbname=app user=replicator password=pw",
		},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			assert.Equal(t, tt.Expected, connstr.Build(tt.Params))
		})
	}
}

func TestBuildWithOptions(t *testing.T) {
	s := connstr.BuildWithOptions(connstr.Params{
		Host:     "localhost",
		Port:     "5432",
		DBName:   "app",
		User:     "postgres",
		Password: "secret",
	}, map[string]string{"sslmode": "disable"})

	assert.Equal(t, "host=localhost port=5432 dbname=app user=postgres password=secret sslmode=disable", s)
}

func TestRedact(t *testing.T) {
	s := connstr.Redact("host=localhost port=5432 dbname=app user=postgres password=secret")

	assert.Equal(t, "host=localhost port=5432 dbname=app user=postgres password=*****", s)
	assert.NotContains(t, s, "secret")
}
