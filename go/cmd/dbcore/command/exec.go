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

package command

import (
	"errors"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/multigres/dbcore/go/engine"
	"github.com/multigres/dbcore/go/engine/execopts"
	"github.com/multigres/dbcore/go/engine/sqlstmt"
)

// AddExecCommand adds the exec subcommand to root.
func AddExecCommand(root *cobra.Command, dc *DbcoreCommand) {
	cmd := &cobra.Command{
		Use:   "exec SQL [PARAM...]",
		Short: "Execute a single statement",
		Long: `Execute a single statement and print its rows or affected row count.

Extra arguments are bound as positional parameters, using the placeholder
style of the database driver. Mutating statements are committed unless
--autocommit=false or --rollback is given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: dc.runExec,
	}

	cmd.Flags().Bool("autocommit", false, "Force autocommit on or off instead of detecting it from the statement")
	cmd.Flags().Int("max-rows", 0, "Print at most this many rows (0 = no limit)")
	cmd.Flags().Bool("rollback", false, "Run the statement in a transaction and roll it back afterwards")

	root.AddCommand(cmd)
}

func (dc *DbcoreCommand) runExec(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	maxRows, _ := cmd.Flags().GetInt("max-rows")
	rollback, _ := cmd.Flags().GetBool("rollback")

	logger := dc.logger.With("session", uuid.NewString())
	e, closeEngine, err := dc.openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeEngine()) }()

	conn, err := e.Connect(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, conn.Close()) }()

	target := conn
	if cmd.Flags().Changed("autocommit") {
		autocommit, _ := cmd.Flags().GetBool("autocommit")
		if target, err = conn.ExecutionOptions(ctx, execopts.Autocommit(autocommit)); err != nil {
			return err
		}
	}

	var tx *engine.Transaction
	if rollback {
		if tx, err = target.Begin(ctx); err != nil {
			return err
		}
	}

	params := make([]any, 0, len(args)-1)
	for _, p := range args[1:] {
		params = append(params, p)
	}
	res, err := target.Execute(ctx, sqlstmt.Text(args[0]), params...)
	if err != nil {
		return err
	}

	var rows []engine.Row
	switch {
	case !res.ReturnsRows():
	case maxRows > 0:
		rows, err = res.FetchMany(ctx, maxRows)
	default:
		rows, err = res.FetchAll(ctx)
	}
	if err != nil {
		return err
	}
	if err := res.Close(); err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res, rows)
	logger.DebugContext(ctx, "statement finished", "sql", args[0], "rows", len(rows), "affected", res.RowsAffected())

	if tx != nil {
		if err := tx.Rollback(ctx); err != nil {
			return err
		}
		logger.InfoContext(ctx, "statement rolled back")
	}
	return nil
}
