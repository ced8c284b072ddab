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
	"slices"
)

// waiter is an acquirer blocked on a full generation.
type waiter struct {
	// ch receives either a checked-out record or nil, which tells the waiter
	// to retry: a slot was freed or the generation was disposed. It is
	// buffered so a handoff never blocks the releasing goroutine.
	ch chan *record
}

// waitlist is a FIFO of waiters. It is guarded by the generation mutex.
type waitlist struct {
	waiters []*waiter
}

func (wl *waitlist) push() *waiter {
	w := &waiter{ch: make(chan *record, 1)}
	wl.waiters = append(wl.waiters, w)
	return w
}

// popFront removes and returns the oldest waiter, or nil.
func (wl *waitlist) popFront() *waiter {
	if len(wl.waiters) == 0 {
		return nil
	}
	w := wl.waiters[0]
	wl.waiters[0] = nil
	wl.waiters = wl.waiters[1:]
	return w
}

// remove deletes w and reports whether it was still waiting.
func (wl *waitlist) remove(w *waiter) bool {
	i := slices.Index(wl.waiters, w)
	if i < 0 {
		return false
	}
	wl.waiters = slices.Delete(wl.waiters, i, i+1)
	return true
}

func (wl *waitlist) drain() []*waiter {
	ws := wl.waiters
	wl.waiters = nil
	return ws
}

func (wl *waitlist) len() int {
	return len(wl.waiters)
}

// waitFor blocks until w is handed a record or ctx ends. When the context ends
// but a handoff already happened, the handed record wins.
func (g *generation) waitFor(ctx context.Context, w *waiter) (*record, error) {
	select {
	case rec := <-w.ch:
		return rec, nil
	case <-ctx.Done():
		g.mu.Lock()
		removed := g.waiters.remove(w)
		g.mu.Unlock()
		if removed {
			return nil, context.Cause(ctx)
		}
		// someone removed us from the list and is handing over a record
		return <-w.ch, nil
	}
}
