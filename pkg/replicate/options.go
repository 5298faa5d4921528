// SPDX-License-Identifier: Apache-2.0

package replicate

import (
	"github.com/ISMashtakov/databaser/pkg/db"
	"github.com/ISMashtakov/databaser/pkg/queries"
)

type options struct {
	stats        Stats
	queries      queries.Provider
	src          db.DB
	dst          db.DB
	maxOpenConns int
}

type Option func(*options)

// WithStats sets the stage bookkeeping sink.
func WithStats(stats Stats) Option {
	return func(o *options) {
		o.stats = stats
	}
}

// WithQueries overrides the SQL provider.
func WithQueries(q queries.Provider) Option {
	return func(o *options) {
		o.queries = q
	}
}

// WithDB injects both database handles instead of opening pools from the
// configured connection parameters. Used by tests.
func WithDB(src, dst db.DB) Option {
	return func(o *options) {
		o.src = src
		o.dst = dst
	}
}

// WithMaxOpenConns bounds each connection pool.
func WithMaxOpenConns(n int) Option {
	return func(o *options) {
		o.maxOpenConns = n
	}
}
