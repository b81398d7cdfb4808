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
	"encoding/json"
	"fmt"

	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/core"
	"github.com/apex/log"
)

// Relay republishes delivered samples on NATS as JSON, one subject per variable
// ("<prefix>.<variable>")
type Relay struct {
	common.Component
	client  core.NatsClient
	prefix  string
	metrics *Metrics
}

// NewRelay define new Relay
func NewRelay(client core.NatsClient, prefix string, metrics *Metrics) *Relay {
	return &Relay{
		Component: common.Component{LogTags: log.Fields{
			"module": "sink", "component": "nats-relay", "instance": prefix,
		}},
		client:  client,
		prefix:  prefix,
		metrics: metrics,
	}
}

// Subject the NATS subject carrying one variable
func (r *Relay) Subject(variable string) string {
	return fmt.Sprintf("%s.%s", r.prefix, variable)
}

// Consume publish one sample. Failures are logged and counted.
func (r *Relay) Consume(sample common.Sample) {
	payload, err := json.Marshal(&sample)
	if err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Unable to serialize sample")
		r.metrics.RelayErrors.Inc()
		return
	}
	if err := r.client.Publish(r.Subject(sample.Variable), payload); err != nil {
		log.WithError(err).WithFields(r.LogTags).Debug("Relay publish failed")
		r.metrics.RelayErrors.Inc()
	}
}
