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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/multigres/dbcore/go/config"
	"github.com/multigres/dbcore/go/engine"
	"github.com/multigres/dbcore/go/engine/sqlstmt"
)

const shellHelp = `Statements end with a semicolon and may span several lines.

  \begin            begin a transaction, nested when one is in progress
  \begin2pc [XID]   begin a two-phase transaction
  \prepare          prepare the current two-phase transaction
  \commit           commit the innermost transaction
  \rollback         roll back the innermost transaction
  \status           show the transaction depth and state
  \dispose          replace the pooled connections
  \help             show this help
  \quit             leave the shell`

// AddShellCommand adds the shell subcommand to root.
func AddShellCommand(root *cobra.Command, dc *DbcoreCommand) {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Run statements interactively",
		Long:  "Read statements from standard input and run them on a single connection.\n\n" + shellHelp,
		Args:  cobra.NoArgs,
		RunE:  dc.runShell,
	}

	cmd.Flags().Bool("watch-config", true, "Replace pooled connections when the config file changes")

	root.AddCommand(cmd)
}

func (dc *DbcoreCommand) runShell(cmd *cobra.Command, args []string) (err error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	e, closeEngine, err := dc.openEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, closeEngine()) }()

	logger := dc.logger.With("session", uuid.NewString())
	if watch, _ := cmd.Flags().GetBool("watch-config"); watch && dc.loader.ConfigFileUsed() != "" {
		done, err := dc.loader.Watch(ctx, dc.onConfigChange(ctx, e, logger))
		if err != nil {
			return err
		}
		defer func() {
			cancel()
			<-done
		}()
	}

	conn, err := e.Connect(ctx)
	if err != nil {
		return err
	}
	s := &shell{out: cmd.OutOrStdout(), engine: e, conn: conn, logger: logger}
	defer func() { err = errors.Join(err, s.close()) }()

	return s.run(ctx, cmd.InOrStdin())
}

// onConfigChange disposes the pool so that new connections pick up the
// reloaded configuration. The connection the shell holds is kept.
func (dc *DbcoreCommand) onConfigChange(ctx context.Context, e *engine.Engine, logger *slog.Logger) func(*config.Config) {
	return func(cfg *config.Config) {
		if cfg.URL != dc.cfg.URL {
			logger.WarnContext(ctx, "database url changed, restart the shell to connect to it")
		}
		e.Dispose(ctx)
		logger.InfoContext(ctx, "pooled connections replaced after config change")
	}
}

type shell struct {
	out    io.Writer
	engine *engine.Engine
	conn   *engine.Connection
	logger *slog.Logger

	// txs holds the open transactions, innermost last.
	txs      []*engine.Transaction
	twoPhase *engine.TwoPhaseTransaction
}

func (s *shell) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	var pending strings.Builder
	s.prompt(false)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case pending.Len() == 0 && strings.HasPrefix(line, `\`):
			if quit := s.meta(ctx, line); quit {
				return nil
			}
		default:
			if pending.Len() > 0 {
				pending.WriteByte('\n')
			}
			pending.WriteString(line)
			if strings.HasSuffix(line, ";") {
				sql := strings.TrimSpace(strings.TrimSuffix(pending.String(), ";"))
				pending.Reset()
				s.report(s.execute(ctx, sql))
			}
		}
		s.prompt(pending.Len() > 0)
	}
	return scanner.Err()
}

func (s *shell) prompt(continued bool) {
	switch {
	case continued:
		fmt.Fprint(s.out, "     -> ")
	case len(s.txs) > 0:
		fmt.Fprint(s.out, "dbcore*> ")
	default:
		fmt.Fprint(s.out, "dbcore> ")
	}
}

func (s *shell) report(err error) {
	if err != nil {
		fmt.Fprintf(s.out, "ERROR: %v\n", err)
	}
}

func (s *shell) execute(ctx context.Context, sql string) error {
	res, err := s.conn.Execute(ctx, sqlstmt.Text(sql))
	if err != nil {
		return err
	}
	var rows []engine.Row
	if res.ReturnsRows() {
		if rows, err = res.FetchAll(ctx); err != nil {
			return err
		}
	}
	printResult(s.out, res, rows)
	return nil
}

// meta runs a backslash command and reports whether the shell should exit.
func (s *shell) meta(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case `\q`, `\quit`:
		return true
	case `\help`, `\?`:
		fmt.Fprintln(s.out, shellHelp)
	case `\begin`:
		tx, err := s.conn.Begin(ctx)
		if err != nil {
			s.report(err)
			return false
		}
		s.txs = append(s.txs, tx)
	case `\begin2pc`:
		var xid string
		if len(fields) > 1 {
			xid = fields[1]
		}
		tp, err := s.conn.BeginTwoPhase(ctx, xid)
		if err != nil {
			s.report(err)
			return false
		}
		s.twoPhase = tp
		s.txs = append(s.txs, tp.Transaction)
		fmt.Fprintf(s.out, "two-phase transaction %s\n", tp.Xid())
	case `\prepare`:
		if s.twoPhase == nil {
			s.report(errors.New("no two-phase transaction in progress"))
			return false
		}
		s.report(s.twoPhase.Prepare(ctx))
	case `\commit`:
		s.report(s.finish(ctx, (*engine.Transaction).Commit))
	case `\rollback`:
		s.report(s.finish(ctx, (*engine.Transaction).Rollback))
	case `\status`:
		if len(s.txs) == 0 {
			fmt.Fprintln(s.out, "no transaction")
			return false
		}
		fmt.Fprintf(s.out, "transaction depth %d, %s\n", len(s.txs), s.txs[len(s.txs)-1].State())
	case `\dispose`:
		s.engine.Dispose(ctx)
		fmt.Fprintln(s.out, "pooled connections replaced")
	default:
		s.report(fmt.Errorf("unknown command %s, try \\help", fields[0]))
	}
	return false
}

// finish ends the innermost transaction, then drops every handle that is no
// longer active. A rollback at any depth ends the whole chain, and so does a
// failed commit.
func (s *shell) finish(ctx context.Context, end func(*engine.Transaction, context.Context) error) error {
	if len(s.txs) == 0 {
		return errors.New("no transaction in progress")
	}
	err := end(s.txs[len(s.txs)-1], ctx)
	s.txs = slices.DeleteFunc(s.txs, func(tx *engine.Transaction) bool {
		return !tx.IsActive()
	})
	if len(s.txs) == 0 {
		s.twoPhase = nil
	}
	return err
}

func (s *shell) close() error {
	if len(s.txs) > 0 {
		s.logger.Warn("rolling back unfinished transaction", "depth", len(s.txs))
	}
	return s.conn.Close()
}
