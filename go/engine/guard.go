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

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/multigres/dbcore/go/common/dberrors"
)

type guarded struct {
	resource string
	origin   string
	closed   func() bool
	close    func() error
}

// Guard is a scoped leak detector. Connections and Results registered with
// it are checked when the scope ends: any still open is closed and reported
// as a ResourceLeakWarning.
//
//	g := engine.NewGuard(logger)
//	defer g.Release(ctx)
//	conn := g.Connection(eng.Connect(ctx))
type Guard struct {
	logger    *slog.Logger
	resources []guarded
}

// NewGuard creates a guard that logs leaks to logger, or slog.Default()
// when nil.
func NewGuard(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger}
}

// Connection registers c and passes through its arguments.
func (g *Guard) Connection(c *Connection, err error) (*Connection, error) {
	if err == nil && c != nil {
		g.track("connection", c.Closed, c.Close)
	}
	return c, err
}

// Result registers r and passes through its arguments.
func (g *Guard) Result(r *Result, err error) (*Result, error) {
	if err == nil && r != nil {
		g.track("result", r.Closed, r.Close)
	}
	return r, err
}

func (g *Guard) track(resource string, closed func() bool, closeFn func() error) {
	origin := ""
	if _, file, line, ok := runtime.Caller(2); ok {
		origin = fmt.Sprintf("%s:%d", file, line)
	}
	g.resources = append(g.resources, guarded{resource: resource, origin: origin, closed: closed, close: closeFn})
}

// Release closes every registered resource that is still open, in reverse
// registration order, and returns a warning for each.
func (g *Guard) Release(ctx context.Context) []*dberrors.ResourceLeakWarning {
	var warnings []*dberrors.ResourceLeakWarning
	for i := len(g.resources) - 1; i >= 0; i-- {
		res := g.resources[i]
		if res.closed() {
			continue
		}
		w := &dberrors.ResourceLeakWarning{Resource: res.resource, Origin: res.origin}
		g.logger.WarnContext(ctx, w.Error())
		if err := res.close(); err != nil {
			g.logger.WarnContext(ctx, "failed to close leaked resource", "resource", res.resource, "error", err)
		}
		warnings = append(warnings, w)
	}
	g.resources = nil
	return warnings
}
