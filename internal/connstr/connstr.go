// SPDX-License-Identifier: Apache-2.0

package connstr

import (
	"fmt"
	"strings"
)

// Params are the connection parameters for one side of the replication.
type Params struct {
	Host     string
	Port     string
	Schema   string
	DBName   string
	User     string
	Password string
}

// Build produces a keyword/value connection string in the form expected both
// by lib/pq and by the dblink extension on the destination server.
func Build(p Params) string {
	return fmt.Sprintf(
		"host=%s port=%s dbname=%s user=%s password=%s",
		p.Host, p.Port, p.DBName, p.User, p.Password,
	)
}

// BuildWithOptions appends extra keyword/value options (e.g. sslmode) to the
// base connection string.
func BuildWithOptions(p Params, options map[string]string) string {
	s := Build(p)
	for k, v := range options {
		s += fmt.Sprintf(" %s=%s", k, v)
	}
	return s
}

// Redact replaces the password value for logging.
func Redact(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=*****"
		}
	}
	return strings.Join(fields, " ")
}
