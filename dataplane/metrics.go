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

package dataplane

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics data channel counters
type Metrics struct {
	DatagramsSent     *prometheus.CounterVec
	SendErrors        *prometheus.CounterVec
	DatagramsReceived *prometheus.CounterVec
	DecodeErrors      *prometheus.CounterVec
	StaleDatagrams    *prometheus.CounterVec
	ActiveChannels    prometheus.Gauge
}

// NewMetrics define data channel metrics for one role ("server" or "viewer").
//
// When registerer is nil the metrics are kept on a private registry.
func NewMetrics(registerer prometheus.Registerer, role string) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	labels := prometheus.Labels{"role": role}
	factory := promauto.With(registerer)
	return &Metrics{
		DatagramsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "telestream_datagrams_sent_total",
			Help:        "The total number of sample datagrams sent",
			ConstLabels: labels,
		}, []string{"variable"}),
		SendErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "telestream_send_errors_total",
			Help:        "The total number of sample datagrams which failed to send",
			ConstLabels: labels,
		}, []string{"variable"}),
		DatagramsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "telestream_datagrams_received_total",
			Help:        "The total number of valid sample datagrams received",
			ConstLabels: labels,
		}, []string{"variable"}),
		DecodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "telestream_decode_errors_total",
			Help:        "The total number of datagrams dropped as undecodable",
			ConstLabels: labels,
		}, []string{"variable"}),
		StaleDatagrams: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "telestream_stale_datagrams_total",
			Help:        "The total number of datagrams dropped for naming another variable",
			ConstLabels: labels,
		}, []string{"variable"}),
		ActiveChannels: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "telestream_active_channels",
			Help:        "The number of running data channels",
			ConstLabels: labels,
		}),
	}
}
