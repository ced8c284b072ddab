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
	"sync/atomic"
	"time"
)

var monotonicRoot = time.Now()

// timestamp is a monotonic point in time, stored as nanoseconds since the
// monotonic root so it can be read and written atomically. The zero value
// is "never".
type timestamp struct {
	nano atomic.Int64
}

// monotonicNow returns the current monotonic time. time.Since subtracts
// monotonic readings directly without consulting the wall clock.
func monotonicNow() time.Duration {
	return time.Since(monotonicRoot)
}

func (t *timestamp) set(mono time.Duration) {
	t.nano.Store(int64(mono))
}

func (t *timestamp) get() time.Duration {
	return time.Duration(t.nano.Load())
}

// elapsed returns the time passed since the timestamp was last updated.
func (t *timestamp) elapsed() time.Duration {
	return monotonicNow() - t.get()
}

func (t *timestamp) update() {
	t.set(monotonicNow())
}

// before reports whether t was set strictly before other.
func (t *timestamp) before(other *timestamp) bool {
	return t.get() < other.get()
}
