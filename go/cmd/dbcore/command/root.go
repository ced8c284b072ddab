// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package command implements the dbcore command line.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/multigres/dbcore/go/config"
	"github.com/multigres/dbcore/go/engine"
	"github.com/multigres/dbcore/go/engine/driver/sqldriver"
)

// DbcoreCommand holds the state shared by the dbcore subcommands.
type DbcoreCommand struct {
	fs     afero.Fs
	loader *config.Loader
	cfg    *config.Config
	logger *slog.Logger
}

// GetRootCommand creates the root command with all subcommands.
func GetRootCommand() *cobra.Command {
	return newRootCommand(afero.NewOsFs())
}

func newRootCommand(fs afero.Fs) *cobra.Command {
	dc := &DbcoreCommand{
		fs:     fs,
		loader: config.NewLoader(fs, nil),
	}

	root := &cobra.Command{
		Use:   "dbcore",
		Short: "Run SQL through a pooled database engine",
		Long: `dbcore runs statements through a pooled engine with autocommit detection,
nested transactions and two-phase commit recovery.

Get started with:
  dbcore exec --url sqlite:///tmp/app.db "CREATE TABLE items (id INTEGER)"
  dbcore shell --url postgres://app@localhost/app

Configuration is read from --config-file, DBCORE_* environment variables
and flags, in increasing order of precedence.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Flag errors are reported before this runs, so they still show usage.
			cmd.SilenceUsage = true
			cfg, err := dc.loader.Load()
			if err != nil {
				return err
			}
			lvl, err := cfg.Level()
			if err != nil {
				return err
			}
			dc.cfg = cfg
			dc.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: lvl}))
			return nil
		},
	}

	dc.loader.RegisterFlags(root.PersistentFlags())

	AddExecCommand(root, dc)
	AddShellCommand(root, dc)
	AddRecoverCommand(root, dc)

	return root
}

// openEngine opens the configured database. The returned function reports
// leaked connections when checkouts are tracked, then closes the engine and
// the driver.
func (dc *DbcoreCommand) openEngine(ctx context.Context) (*engine.Engine, func() error, error) {
	e, d, err := dc.cfg.Open(dc.fs, dc.logger)
	if err != nil {
		return nil, nil, err
	}
	return e, dc.closer(ctx, e, d), nil
}

func (dc *DbcoreCommand) closer(ctx context.Context, e *engine.Engine, d *sqldriver.Driver) func() error {
	return func() error {
		if dc.cfg.Pool.TrackCheckouts {
			// CheckLeaks logs each warning itself.
			_ = e.CheckLeaks(ctx)
		}
		return errors.Join(e.Close(), d.Close())
	}
}

// --- Output ---

// printResult writes a row table, or the affected row count for statements
// that return no rows.
func printResult(w io.Writer, res *engine.Result, rows []engine.Row) {
	if !res.ReturnsRows() {
		switch n := res.RowsAffected(); {
		case n < 0:
			fmt.Fprintln(w, "OK")
		case n == 1:
			fmt.Fprintln(w, "1 row affected")
		default:
			fmt.Fprintf(w, "%d rows affected\n", n)
		}
		return
	}

	columns := res.Columns()
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	cells := make([][]string, len(rows))
	for r, row := range rows {
		cells[r] = make([]string, len(columns))
		for i, v := range row.Values() {
			cells[r][i] = formatValue(v)
			widths[i] = max(widths[i], len(cells[r][i]))
		}
	}

	printLine := func(values []string) {
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = fmt.Sprintf("%-*s", widths[i], v)
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}
	printLine(columns)
	total := 2 * (len(columns) - 1)
	for _, width := range widths {
		total += width
	}
	fmt.Fprintln(w, strings.Repeat("-", total))
	for _, row := range cells {
		printLine(row)
	}
	if len(rows) == 1 {
		fmt.Fprintln(w, "(1 row)")
	} else {
		fmt.Fprintf(w, "(%d rows)\n", len(rows))
	}
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
