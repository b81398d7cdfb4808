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

package common

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
)

// TimeoutHandler callback function signature called timer timeout
type TimeoutHandler func() error

// IntervalTimer is a support interface for triggering events at specific intervals
type IntervalTimer interface {
	// Start starts timer with a specific timeout interval, and the callback to trigger on timeout.
	//
	// If oneShot, cancel after first timeout.
	Start(interval time.Duration, handler TimeoutHandler, oneShot bool) error
	// Stop stops the timer. Returns after any handler call in progress has finished.
	Stop() error
}

// intervalTimerImpl implements IntervalTimer
type intervalTimerImpl struct {
	Component
	lock          sync.Mutex
	rootContext   context.Context
	contextCancel context.CancelFunc
	// done is closed when the running timer loop has exited
	done chan struct{}
	wg   *sync.WaitGroup
}

// GetIntervalTimerInstance get an implementation instance of IntervalTimer
func GetIntervalTimerInstance(
	rootCtxt context.Context, wg *sync.WaitGroup, name string,
) (IntervalTimer, error) {
	logTags := log.Fields{
		"module": "common", "component": "interval-timer", "instance": name,
	}
	return &intervalTimerImpl{
		Component:     Component{LogTags: logTags},
		rootContext:   rootCtxt,
		contextCancel: nil,
		wg:            wg,
	}, nil
}

// Start starts timer with a specific timeout interval, and the callback to trigger on timeout.
//
// A running timer is stopped before the new one starts.
func (t *intervalTimerImpl) Start(
	interval time.Duration, handler TimeoutHandler, oneShot bool,
) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.stopLoop()
	log.WithFields(t.LogTags).Debugf("Starting with int %s", interval)
	t.wg.Add(1)
	ctxt, cancel := context.WithCancel(t.rootContext)
	done := make(chan struct{})
	t.contextCancel = cancel
	t.done = done
	go func() {
		defer t.wg.Done()
		defer close(done)
		defer log.WithFields(t.LogTags).Debug("Timer loop exiting")
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctxt.Done():
				return
			case <-ticker.C:
				// Both cases may be ready at once
				if ctxt.Err() != nil {
					return
				}
				if err := handler(); err != nil {
					log.WithError(err).WithFields(t.LogTags).Error("Handler failed")
				}
				if oneShot {
					return
				}
			}
		}
	}()
	return nil
}

// Stop stops the timer, and waits for a handler call in progress to return. It must not
// be called from within the handler.
func (t *intervalTimerImpl) Stop() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.stopLoop()
	return nil
}

// stopLoop cancel the running timer loop and wait for it to exit. Caller holds the lock.
func (t *intervalTimerImpl) stopLoop() {
	if t.contextCancel == nil {
		return
	}
	log.WithFields(t.LogTags).Debug("Stopping timer loop")
	t.contextCancel()
	<-t.done
	t.contextCancel = nil
	t.done = nil
}
