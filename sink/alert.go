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
	"sync"
	"time"
)

// AlertKind type of alert
type AlertKind string

// Alert kinds
const (
	AlertAboveThreshold AlertKind = "ABOVE_THRESHOLD"
	AlertBelowThreshold AlertKind = "BELOW_THRESHOLD"
	AlertFailure        AlertKind = "FAILURE"
)

// Alert the content of the alert slot
type Alert struct {
	// Instance identifies one showing of the alert surface. Replacing the text of a live
	// alert keeps the instance.
	Instance     uint64    `json:"instance"`
	Kind         AlertKind `json:"kind"`
	Variable     string    `json:"variable,omitempty"`
	Message      string    `json:"message"`
	RaisedAt     time.Time `json:"raised_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Replacements int       `json:"replacements"`
}

// AlertPresenter is notified whenever the alert slot content changes
type AlertPresenter func(alert Alert)

// AlertSlot holds at most one live alert. Raising while an alert is live replaces its
// content instead of queueing a second alert.
type AlertSlot struct {
	lock      sync.Mutex
	current   *Alert
	instances uint64
	presenter AlertPresenter
	metrics   *Metrics
}

// NewAlertSlot define new AlertSlot. presenter may be nil.
func NewAlertSlot(presenter AlertPresenter, metrics *Metrics) *AlertSlot {
	return &AlertSlot{presenter: presenter, metrics: metrics}
}

// Raise show an alert, replacing the live one if present
func (s *AlertSlot) Raise(kind AlertKind, variable, message string) Alert {
	s.lock.Lock()
	now := time.Now()
	if s.current != nil {
		s.current.Kind = kind
		s.current.Variable = variable
		s.current.Message = message
		s.current.UpdatedAt = now
		s.current.Replacements++
	} else {
		s.instances++
		s.current = &Alert{
			Instance:  s.instances,
			Kind:      kind,
			Variable:  variable,
			Message:   message,
			RaisedAt:  now,
			UpdatedAt: now,
		}
	}
	alert := *s.current
	s.lock.Unlock()

	if s.metrics != nil {
		s.metrics.AlertsRaised.WithLabelValues(string(kind)).Inc()
	}
	if s.presenter != nil {
		s.presenter(alert)
	}
	return alert
}

// Current the live alert, if any
func (s *AlertSlot) Current() (Alert, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.current == nil {
		return Alert{}, false
	}
	return *s.current, true
}

// Dismiss clear the live alert. Returns false if nothing was showing.
func (s *AlertSlot) Dismiss() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.current == nil {
		return false
	}
	s.current = nil
	return true
}

// Instances the number of distinct alert instances shown so far
func (s *AlertSlot) Instances() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.instances
}
