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

// Package pool implements a bounded pool of native database connections.
//
// The pool holds Size persistent connections and allows up to MaxOverflow
// extra connections under load. Connections live in a generation; Dispose
// swaps in a new, empty generation while connections of the old one are
// closed as they are returned, so a pool can be reset without interrupting
// callers that still hold connections.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/multigres/dbcore/go/common/dberrors"
	"github.com/multigres/dbcore/go/engine/driver"
)

// ErrPoolClosed is returned when acquiring from a closed pool.
var ErrPoolClosed = errors.New("pool is closed")

var errAcquireTimeout = errors.New("timed out waiting for a connection")

// ResetMode selects how a connection is reset when it is returned.
type ResetMode int

const (
	// ResetRollback rolls back any pending work. This is the default.
	ResetRollback ResetMode = iota
	// ResetCommit commits any pending work.
	ResetCommit
	// ResetNone leaves the connection untouched.
	ResetNone
)

func (m ResetMode) String() string {
	switch m {
	case ResetRollback:
		return "rollback"
	case ResetCommit:
		return "commit"
	case ResetNone:
		return "none"
	}
	return "unknown"
}

// Config holds the pool configuration.
type Config struct {
	// Name identifies the pool in logs and metrics.
	Name string

	// Size is the number of connections kept open. Defaults to 5.
	Size int

	// MaxOverflow is the number of connections allowed beyond Size. They
	// are closed when returned while Size connections are idle. A negative
	// value removes the limit.
	MaxOverflow int

	// Timeout bounds how long Acquire waits for a connection. Defaults to
	// 30 seconds.
	Timeout time.Duration

	// Recycle replaces connections older than this at checkout. Zero
	// disables recycling.
	Recycle time.Duration

	// PrePing checks connections implementing driver.Pinger at checkout and
	// replaces dead ones.
	PrePing bool

	// ResetOnReturn selects how returned connections are reset.
	ResetOnReturn ResetMode

	// LIFO hands out the most recently returned connection first instead of
	// the oldest.
	LIFO bool

	// OnConnect runs on every new native connection before first use. An
	// error closes the connection and fails the checkout.
	OnConnect func(ctx context.Context, conn driver.Conn) error

	// TrackCheckouts records the acquiring call site of every checkout so
	// Outstanding can report leaked connections.
	TrackCheckouts bool

	// Logger is used for pool events. Defaults to slog.Default().
	Logger *slog.Logger

	// ConnectionCount is the OTel instrument tracking idle and used
	// connections. The zero value records nothing.
	ConnectionCount ConnectionCount
}

// DefaultConfig returns the configuration used for zero Config fields, with
// MaxOverflow set to its conventional default of 10.
func DefaultConfig() *Config {
	return &Config{
		Name:        "default",
		Size:        5,
		MaxOverflow: 10,
		Timeout:     30 * time.Second,
	}
}

// Pool is a pool of native connections.
type Pool struct {
	driver         driver.Driver
	name           string
	size           int
	maxOverflow    int
	timeout        time.Duration
	recycle        time.Duration
	prePing        bool
	reset          ResetMode
	lifo           bool
	onConnect      func(context.Context, driver.Conn) error
	trackCheckouts bool
	logger         *slog.Logger
	connCount      ConnectionCount

	gen    atomic.Pointer[generation]
	genSeq atomic.Int64
	closed atomic.Bool

	// invalidatedAt is the time of the last InvalidateAll; connections
	// created before it are replaced at checkout.
	invalidatedAt timestamp

	mu        sync.Mutex
	checkouts map[*Pooled]struct{}
}

// New creates a pool of connections opened through drv.
func New(drv driver.Driver, cfg *Config) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Pool{
		driver:         drv,
		name:           cfg.Name,
		size:           cfg.Size,
		maxOverflow:    cfg.MaxOverflow,
		timeout:        cfg.Timeout,
		recycle:        cfg.Recycle,
		prePing:        cfg.PrePing,
		reset:          cfg.ResetOnReturn,
		lifo:           cfg.LIFO,
		onConnect:      cfg.OnConnect,
		trackCheckouts: cfg.TrackCheckouts,
		logger:         cfg.Logger,
		connCount:      cfg.ConnectionCount,
		checkouts:      make(map[*Pooled]struct{}),
	}
	if p.name == "" {
		p.name = "default"
	}
	if p.size <= 0 {
		p.size = 5
	}
	if p.timeout <= 0 {
		p.timeout = 30 * time.Second
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.gen.Store(p.newGeneration())
	return p
}

func (p *Pool) newGeneration() *generation {
	return &generation{pool: p, id: p.genSeq.Add(1)}
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.name
}

// Acquire checks out a connection. It waits up to the pool timeout for a
// connection to become available and fails with a PoolExhaustedError when
// none does. The caller must Close the returned connection.
func (p *Pool) Acquire(ctx context.Context) (*Pooled, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, p.timeout, errAcquireTimeout)
	defer cancel()

	for {
		if p.closed.Load() {
			return nil, ErrPoolClosed
		}
		g := p.gen.Load()
		rec, err := g.get(ctx)
		if err == nil && rec == nil {
			// the generation was disposed or a slot was freed
			if err = ctx.Err(); err == nil {
				continue
			}
			err = context.Cause(ctx)
		}
		if err != nil {
			if errors.Is(err, errAcquireTimeout) {
				return nil, &dberrors.PoolExhaustedError{
					Pool:     p.name,
					Size:     p.size,
					Overflow: p.maxOverflow,
					Timeout:  p.timeout,
				}
			}
			return nil, err
		}
		if err := p.validate(ctx, g, rec); err != nil {
			return nil, err
		}
		pc := &Pooled{pool: p, gen: g, rec: rec}
		pc.checkedOut.update()
		if p.trackCheckouts {
			pc.origin = callerOrigin()
			p.mu.Lock()
			p.checkouts[pc] = struct{}{}
			p.mu.Unlock()
		}
		p.logger.DebugContext(ctx, "connection checked out", "pool", p.name, "generation", g.id)
		return pc, nil
	}
}

// validate replaces a checked-out record's native connection when it is
// too old, was invalidated, or fails a pre-ping.
func (p *Pool) validate(ctx context.Context, g *generation, rec *record) error {
	var reason string
	switch {
	case rec.created.before(&p.invalidatedAt):
		reason = "invalidated"
	case p.recycle > 0 && rec.created.elapsed() > p.recycle:
		reason = "recycled"
	case p.prePing:
		if pinger, ok := rec.conn.(driver.Pinger); ok {
			if err := pinger.Ping(ctx); err != nil {
				reason = "ping failed: " + err.Error()
			}
		}
	}
	if reason == "" {
		return nil
	}
	p.logger.InfoContext(ctx, "replacing connection", "pool", p.name, "generation", g.id, "reason", reason)
	p.closeNative(ctx, rec.conn)
	conn, err := p.connect(ctx)
	if err != nil {
		g.discard(rec)
		return err
	}
	rec.conn = conn
	rec.created.update()
	return nil
}

func (p *Pool) connect(ctx context.Context) (driver.Conn, error) {
	conn, err := p.driver.Connect(ctx)
	if err != nil {
		return nil, dberrors.NewDriverError("connect", "", err)
	}
	if p.onConnect != nil {
		if err := p.onConnect(ctx, conn); err != nil {
			p.closeNative(ctx, conn)
			return nil, dberrors.NewDriverError("on connect", "", err)
		}
	}
	return conn, nil
}

func (p *Pool) resetConn(ctx context.Context, conn driver.Conn) error {
	var err error
	switch p.reset {
	case ResetRollback:
		err = conn.Rollback(ctx)
	case ResetCommit:
		err = conn.Commit(ctx)
	}
	if err != nil {
		return dberrors.NewDriverError("reset ("+p.reset.String()+")", "", err)
	}
	return nil
}

func (p *Pool) closeNative(ctx context.Context, conn driver.Conn) {
	if err := conn.Close(); err != nil {
		p.logger.WarnContext(ctx, "failed to close connection", "pool", p.name, "error", err)
	}
}

// Dispose replaces the pool's generation with a new, empty one. Idle
// connections of the old generation are closed now; connections checked
// out from it are closed when they are returned. Acquirers blocked on the
// old generation move to the new one.
func (p *Pool) Dispose(ctx context.Context) {
	old := p.gen.Swap(p.newGeneration())
	p.logger.InfoContext(ctx, "pool disposed", "pool", p.name, "generation", old.id)
	old.dispose(ctx)
}

// Close disposes the pool and makes further Acquire calls fail with
// ErrPoolClosed. Connections still checked out are closed when returned.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrPoolClosed
	}
	ctx := context.Background()
	p.logger.InfoContext(ctx, "pool closed", "pool", p.name)
	p.gen.Load().dispose(ctx)
	return nil
}

// IsClosed reports whether Close was called.
func (p *Pool) IsClosed() bool {
	return p.closed.Load()
}

// InvalidateAll marks every existing connection, idle or checked out, as
// stale. Each is replaced by a new connection at its next checkout.
func (p *Pool) InvalidateAll() {
	p.invalidatedAt.update()
	p.logger.Info("all pool connections invalidated", "pool", p.name)
}

// Stats describes the current generation of a pool.
type Stats struct {
	Generation  int64
	Size        int
	MaxOverflow int
	Idle        int
	CheckedOut  int
	Total       int
	// Overflow is Total minus Size; it is negative while the pool holds
	// fewer than Size connections.
	Overflow int
	Waiting  int
}

// Stats returns a snapshot of the current generation.
func (p *Pool) Stats() Stats {
	g := p.gen.Load()
	g.mu.Lock()
	defer g.mu.Unlock()
	return Stats{
		Generation:  g.id,
		Size:        p.size,
		MaxOverflow: p.maxOverflow,
		Idle:        len(g.idle),
		CheckedOut:  g.checkedOut,
		Total:       g.total,
		Overflow:    g.total - p.size,
		Waiting:     g.waiters.len(),
	}
}

// Checkout describes a connection that has not been returned yet.
type Checkout struct {
	Generation int64
	Origin     string
	Age        time.Duration
}

// Outstanding lists unreturned checkouts across all generations. It is
// only populated when TrackCheckouts is set.
func (p *Pool) Outstanding() []Checkout {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Checkout, 0, len(p.checkouts))
	for pc := range p.checkouts {
		out = append(out, Checkout{Generation: pc.gen.id, Origin: pc.origin, Age: pc.checkedOut.elapsed()})
	}
	return out
}

func (p *Pool) untrack(pc *Pooled) {
	if !p.trackCheckouts {
		return
	}
	p.mu.Lock()
	delete(p.checkouts, pc)
	p.mu.Unlock()
}

// generation is one incarnation of the pool's connection set.
type generation struct {
	pool *Pool
	id   int64

	mu sync.Mutex
	// idle holds available records, oldest first.
	idle []*record
	// total counts records that exist or are being connected, idle or not.
	total      int
	checkedOut int
	disposed   bool
	waiters    waitlist
}

func (g *generation) capacityLeft() bool {
	p := g.pool
	return p.maxOverflow < 0 || g.total < p.size+p.maxOverflow
}

// get checks out an idle record, connects a new one, or waits. A nil record
// with a nil error means the caller should retry on the current generation.
func (g *generation) get(ctx context.Context) (*record, error) {
	p := g.pool
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return nil, nil
	}
	if n := len(g.idle); n > 0 {
		var rec *record
		if p.lifo {
			rec = g.idle[n-1]
			g.idle[n-1] = nil
			g.idle = g.idle[:n-1]
		} else {
			rec = g.idle[0]
			g.idle[0] = nil
			g.idle = g.idle[1:]
		}
		g.checkedOut++
		g.mu.Unlock()
		p.countIdle(-1)
		p.countUsed(1)
		return rec, nil
	}
	if g.capacityLeft() {
		g.total++
		g.checkedOut++
		g.mu.Unlock()

		conn, err := p.connect(ctx)
		if err != nil {
			g.mu.Lock()
			g.total--
			g.checkedOut--
			w := g.waiters.popFront()
			g.mu.Unlock()
			if w != nil {
				w.ch <- nil
			}
			return nil, err
		}
		rec := &record{conn: conn}
		rec.created.update()
		p.countUsed(1)
		return rec, nil
	}
	w := g.waiters.push()
	g.mu.Unlock()
	return g.waitFor(ctx, w)
}

// put returns a checked-out record that was reset successfully.
func (g *generation) put(ctx context.Context, rec *record) {
	p := g.pool
	g.mu.Lock()
	if g.disposed {
		g.total--
		g.checkedOut--
		g.mu.Unlock()
		p.countUsed(-1)
		p.logger.DebugContext(ctx, "closing connection of disposed generation", "pool", p.name, "generation", g.id)
		p.closeNative(ctx, rec.conn)
		return
	}
	if w := g.waiters.popFront(); w != nil {
		g.mu.Unlock()
		w.ch <- rec
		return
	}
	if len(g.idle) >= p.size {
		g.total--
		g.checkedOut--
		g.mu.Unlock()
		p.countUsed(-1)
		p.logger.DebugContext(ctx, "closing overflow connection", "pool", p.name, "generation", g.id)
		p.closeNative(ctx, rec.conn)
		return
	}
	g.idle = append(g.idle, rec)
	g.checkedOut--
	g.mu.Unlock()
	p.countUsed(-1)
	p.countIdle(1)
}

// discard gives up a checked-out record's slot. The native connection must
// already be closed.
func (g *generation) discard(rec *record) {
	g.mu.Lock()
	g.total--
	g.checkedOut--
	w := g.waiters.popFront()
	g.mu.Unlock()
	g.pool.countUsed(-1)
	if w != nil {
		w.ch <- nil
	}
}

func (g *generation) dispose(ctx context.Context) {
	g.mu.Lock()
	if g.disposed {
		g.mu.Unlock()
		return
	}
	g.disposed = true
	idle := g.idle
	g.idle = nil
	g.total -= len(idle)
	waiters := g.waiters.drain()
	g.mu.Unlock()

	for _, rec := range idle {
		g.pool.closeNative(ctx, rec.conn)
	}
	g.pool.countIdle(-int64(len(idle)))
	for _, w := range waiters {
		w.ch <- nil
	}
}
