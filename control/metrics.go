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

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics control channel counters
type Metrics struct {
	Sessions            prometheus.Counter
	RejectedConnections prometheus.Counter
	Commands            *prometheus.CounterVec
}

// NewMetrics define control channel metrics. When registerer is nil the metrics are
// kept on a private registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)
	return &Metrics{
		Sessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "telestream_control_sessions_total",
			Help: "The total number of control sessions accepted",
		}),
		RejectedConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "telestream_control_rejected_connections_total",
			Help: "The total number of control connections turned away",
		}),
		Commands: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telestream_control_commands_total",
			Help: "The total number of control commands processed",
		}, []string{"command", "result"}),
	}
}

// commandResult metric label of a command outcome
func commandResult(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
