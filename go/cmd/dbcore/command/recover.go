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
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/multigres/dbcore/go/engine"
)

// AddRecoverCommand adds the recover command and its subcommands to root.
func AddRecoverCommand(root *cobra.Command, dc *DbcoreCommand) {
	recoverCmd := &cobra.Command{
		Use:   "recover",
		Short: "Resolve prepared two-phase transactions",
		Long:  "List prepared two-phase transactions left behind by failed coordinators, and commit or roll them back.",
	}

	recoverCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List prepared transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return dc.withConnection(cmd.Context(), func(ctx context.Context, conn *engine.Connection) error {
				xids, err := conn.RecoverTwoPhase(ctx)
				if err != nil {
					return err
				}
				if len(xids) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No prepared transactions found.")
					return nil
				}
				for _, xid := range xids {
					fmt.Fprintln(cmd.OutOrStdout(), xid)
				}
				return nil
			})
		},
	})
	recoverCmd.AddCommand(&cobra.Command{
		Use:   "commit XID...",
		Short: "Commit prepared transactions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dc.resolve(cmd, args, "committed", (*engine.Connection).CommitPrepared)
		},
	})
	recoverCmd.AddCommand(&cobra.Command{
		Use:   "rollback XID...",
		Short: "Roll back prepared transactions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dc.resolve(cmd, args, "rolled back", (*engine.Connection).RollbackPrepared)
		},
	})

	root.AddCommand(recoverCmd)
}

// resolve applies fn to every xid, continuing past failures.
func (dc *DbcoreCommand) resolve(cmd *cobra.Command, xids []string, verb string, fn func(*engine.Connection, context.Context, string) error) error {
	return dc.withConnection(cmd.Context(), func(ctx context.Context, conn *engine.Connection) error {
		var errs []error
		for _, xid := range xids {
			if err := fn(conn, ctx, xid); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", xid, err))
				continue
			}
			dc.logger.InfoContext(ctx, "prepared transaction resolved", "xid", xid, "outcome", verb)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", xid, verb)
		}
		return errors.Join(errs...)
	})
}

func (dc *DbcoreCommand) withConnection(ctx context.Context, fn func(context.Context, *engine.Connection) error) (err error) {
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
	return fn(ctx, conn)
}
