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
	"fmt"
	"sync"

	"github.com/alwitt/telestream/common"
	"github.com/apex/log"
)

// Threshold the alert lines of one variable
type Threshold struct {
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
	MinVisible      bool    `json:"min_visible"`
	MaxVisible      bool    `json:"max_visible"`
	AlertMinEnabled bool    `json:"alert_min_enabled"`
	AlertMaxEnabled bool    `json:"alert_max_enabled"`
}

// DefaultThreshold lines far outside the default sample range, hidden, alerts off
func DefaultThreshold() Threshold {
	return Threshold{Min: -1000, Max: 1000}
}

// Violation one threshold crossing
type Violation struct {
	Kind    AlertKind
	Message string
}

// Evaluate list the crossings a value causes, upper line first
func (t Threshold) Evaluate(value float64) []Violation {
	result := []Violation{}
	if t.AlertMaxEnabled && value > t.Max {
		result = append(result, Violation{
			Kind:    AlertAboveThreshold,
			Message: fmt.Sprintf("value above threshold: %.2f > %.2f", value, t.Max),
		})
	}
	if t.AlertMinEnabled && value < t.Min {
		result = append(result, Violation{
			Kind:    AlertBelowThreshold,
			Message: fmt.Sprintf("value below threshold: %.2f < %.2f", value, t.Min),
		})
	}
	return result
}

// ThresholdMonitor checks delivered samples against per variable thresholds and
// raises crossings on the alert slot
type ThresholdMonitor struct {
	common.Component
	lock       sync.RWMutex
	thresholds map[string]Threshold
	alerts     *AlertSlot
}

// NewThresholdMonitor define new ThresholdMonitor
func NewThresholdMonitor(alerts *AlertSlot) *ThresholdMonitor {
	return &ThresholdMonitor{
		Component: common.Component{LogTags: log.Fields{
			"module": "sink", "component": "threshold-monitor",
		}},
		thresholds: make(map[string]Threshold),
		alerts:     alerts,
	}
}

// Set replace the threshold of a variable
func (m *ThresholdMonitor) Set(variable string, threshold Threshold) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.thresholds[variable] = threshold
}

// Get the threshold of a variable, the default if never set
func (m *ThresholdMonitor) Get(variable string) Threshold {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if threshold, ok := m.thresholds[variable]; ok {
		return threshold
	}
	return DefaultThreshold()
}

// Consume check one sample
func (m *ThresholdMonitor) Consume(sample common.Sample) {
	for _, violation := range m.Get(sample.Variable).Evaluate(sample.Value) {
		log.WithFields(m.LogTags).WithField("variable", sample.Variable).Debug(violation.Message)
		m.alerts.Raise(violation.Kind, sample.Variable, violation.Message)
	}
}
