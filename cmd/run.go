// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ISMashtakov/databaser/cmd/flags"
	"github.com/ISMashtakov/databaser/internal/logging"
	"github.com/ISMashtakov/databaser/pkg/replicate"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Replicate the key-scoped slice from the source to the destination database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := flags.Config()

			logging.Setup(logging.Options{
				Level:     cfg.LogLevel,
				Directory: cfg.LogDirectory,
				Filename:  cfg.LogFilename,
			})
			if cfg.TestMode {
				logging.L().Warn("TEST MODE ACTIVATED!!!")
			}

			m, err := replicate.New(cmd.Context(), cfg, replicate.WithStats(&spinnerStats{}))
			if err != nil {
				return err
			}
			defer m.Close()

			if err := m.Run(cmd.Context()); err != nil {
				pterm.Error.Printfln("Replication failed: %s", err)
				return err
			}

			var transferred int64
			for _, t := range m.Model().SortedTables() {
				transferred += t.TransferredPKs()
			}
			pterm.Success.Printfln("Replication finished, %d rows transferred", transferred)

			return nil
		},
	}
}

// spinnerStats renders stage progress with a pterm spinner and records stage
// durations.
type spinnerStats struct{}

func (s *spinnerStats) Begin(stage string) func() {
	sp, _ := pterm.DefaultSpinner.WithText(fmt.Sprintf("Stage %q...", stage)).Start()
	start := time.Now()

	return func() {
		sp.Success(fmt.Sprintf("Stage %q finished in %s", stage, time.Since(start).Round(time.Millisecond)))
	}
}
