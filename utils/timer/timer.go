/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package timer

import (
	"sync"
	"time"

	"github.com/CovenantSQL/vericerti/utils/log"
)

// Timer is a stop watch splitting a job run into named phases.
type Timer struct {
	sync.Mutex
	start  time.Time
	names  []string
	pivots []time.Time
}

// NewTimer returns a new stop watch timer instance.
func NewTimer() *Timer {
	return &Timer{
		start: time.Now(),
	}
}

// Add closes the current phase under name.
func (t *Timer) Add(name string) {
	t.Lock()
	defer t.Unlock()

	t.names = append(t.names, name)
	t.pivots = append(t.pivots, time.Now())
}

// Elapsed returns the time since the timer was created.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ToLogFields returns phase durations as log fields, durations are rendered as strings so
// both text and json formatters print them readably.
func (t *Timer) ToLogFields() log.Fields {
	f := log.Fields{}
	for k, v := range t.ToMap() {
		f[k] = v.String()
	}
	return f
}

// ToMap returns phase durations keyed by phase name plus the "total" duration.
func (t *Timer) ToMap() map[string]time.Duration {
	t.Lock()
	defer t.Unlock()

	lp := len(t.pivots)
	m := make(map[string]time.Duration, 1+lp)

	prev := t.start
	for i := 0; i != lp; i++ {
		m[t.names[i]] += t.pivots[i].Sub(prev)
		prev = t.pivots[i]
	}
	if lp > 0 {
		m["total"] = t.pivots[lp-1].Sub(t.start)
	}

	return m
}
