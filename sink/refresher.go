// Copyright 2025 The telestream Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alwitt/telestream/common"
	"github.com/apex/log"
)

// RefreshObserver is told which variables received samples since the last refresh
type RefreshObserver func(updated []string)

// Refresher coalesces sample arrivals into periodic redraw notifications. The observer
// is only called on ticks where at least one sample arrived.
type Refresher struct {
	common.Component
	lock     sync.Mutex
	dirty    map[string]bool
	interval time.Duration
	observer RefreshObserver
	timer    common.IntervalTimer
}

// GetRefresher define new Refresher
func GetRefresher(
	ctxt context.Context, wg *sync.WaitGroup, interval time.Duration, observer RefreshObserver,
) (*Refresher, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	timer, err := common.GetIntervalTimerInstance(ctxt, wg, "refresher")
	if err != nil {
		return nil, err
	}
	return &Refresher{
		Component: common.Component{LogTags: log.Fields{
			"module": "sink", "component": "refresher",
		}},
		dirty:    make(map[string]bool),
		interval: interval,
		observer: observer,
		timer:    timer,
	}, nil
}

// Consume mark the sample's variable as updated
func (r *Refresher) Consume(sample common.Sample) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.dirty[sample.Variable] = true
}

// Start begin the refresh ticks
func (r *Refresher) Start() error {
	return r.timer.Start(r.interval, r.refresh, false)
}

// Stop end the refresh ticks
func (r *Refresher) Stop() error {
	return r.timer.Stop()
}

func (r *Refresher) refresh() error {
	r.lock.Lock()
	if len(r.dirty) == 0 {
		r.lock.Unlock()
		return nil
	}
	updated := make([]string, 0, len(r.dirty))
	for variable := range r.dirty {
		updated = append(updated, variable)
	}
	r.dirty = make(map[string]bool)
	r.lock.Unlock()

	sort.Strings(updated)
	if r.observer != nil {
		r.observer(updated)
	}
	return nil
}
