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

package pool

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/driver"
)

// record is a pool slot holding exactly one native connection.
type record struct {
	conn    driver.Conn
	created timestamp
}

// Pooled is a single checkout of a pooled connection. It returns the native
// connection to the generation that issued it when closed.
type Pooled struct {
	pool *Pool
	gen  *generation
	rec  *record

	closed      atomic.Bool
	invalidated atomic.Bool
	checkedOut  timestamp
	origin      string
}

// Conn returns the native connection. It fails once the checkout has been
// closed or invalidated.
func (pc *Pooled) Conn() (driver.Conn, error) {
	if pc.closed.Load() {
		return nil, dberrors.IllegalState("pooled connection is closed")
	}
	if pc.invalidated.Load() {
		return nil, dberrors.IllegalState("pooled connection was invalidated")
	}
	return pc.rec.conn, nil
}

// Generation returns the id of the pool generation that issued the
// connection.
func (pc *Pooled) Generation() int64 {
	return pc.gen.id
}

// Age returns how long the native connection has existed.
func (pc *Pooled) Age() time.Duration {
	return pc.rec.created.elapsed()
}

// Closed reports whether Close was called.
func (pc *Pooled) Closed() bool {
	return pc.closed.Load()
}

// Close returns the connection to the pool. The first call resets the
// native connection and hands it back; later calls do nothing. A failed
// reset discards the connection and is reported as a DriverError.
func (pc *Pooled) Close() error {
	if !pc.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx := context.Background()
	p := pc.pool
	p.untrack(pc)
	p.logger.DebugContext(ctx, "connection checked in", "pool", p.name, "generation", pc.gen.id)

	if pc.invalidated.Load() {
		pc.gen.discard(pc.rec)
		return nil
	}
	if err := p.resetConn(ctx, pc.rec.conn); err != nil {
		p.logger.WarnContext(ctx, "discarding connection after failed reset", "pool", p.name, "error", err)
		p.closeNative(ctx, pc.rec.conn)
		pc.gen.discard(pc.rec)
		return err
	}
	pc.gen.put(ctx, pc.rec)
	return nil
}

// Invalidate closes the native connection immediately. The following Close
// frees the pool slot instead of returning the connection.
func (pc *Pooled) Invalidate(cause error) {
	if pc.closed.Load() || !pc.invalidated.CompareAndSwap(false, true) {
		return
	}
	ctx := context.Background()
	pc.pool.logger.WarnContext(ctx, "invalidating connection", "pool", pc.pool.name, "generation", pc.gen.id, "error", cause)
	pc.pool.closeNative(ctx, pc.rec.conn)
}

// callerOrigin returns the first call site outside the engine packages.
func callerOrigin() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !strings.HasPrefix(frame.Function, "github.com/multigres/dbcore/go/engine") || strings.HasSuffix(frame.File, "_test.go") {
			return fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line)
		}
		if !more {
			return ""
		}
	}
}
