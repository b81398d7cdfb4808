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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics viewer side sample consumption counters
type Metrics struct {
	SamplesDelivered *prometheus.CounterVec
	SamplesDropped   *prometheus.CounterVec
	AlertsRaised     *prometheus.CounterVec
	RelayErrors      prometheus.Counter
	QueueLength      prometheus.Gauge
}

// NewMetrics define sink metrics. When registerer is nil the metrics are kept on a
// private registry.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)
	return &Metrics{
		SamplesDelivered: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telestream_samples_delivered_total",
			Help: "The total number of samples handed to the consumers",
		}, []string{"variable"}),
		SamplesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telestream_samples_dropped_total",
			Help: "The total number of samples dropped because the delivery queue was full",
		}, []string{"variable"}),
		AlertsRaised: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "telestream_alerts_raised_total",
			Help: "The total number of alerts raised, including replacements",
		}, []string{"kind"}),
		RelayErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "telestream_relay_errors_total",
			Help: "The total number of samples which failed to relay to NATS",
		}),
		QueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "telestream_delivery_queue_length",
			Help: "The number of samples waiting in the delivery queue",
		}),
	}
}
