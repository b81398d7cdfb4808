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

package source

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/core"
	"github.com/apex/log"
	"github.com/nats-io/nats.go"
)

// NatsSource serves the latest value published for each variable on
// "<prefix>.<variable>". The payload is the value as decimal text.
//
// Until a variable has seen its first message, Sample returns 0.
type NatsSource struct {
	common.Component
	prefix  string
	catalog common.Catalog
	lock    sync.RWMutex
	latest  map[string]float64
	subs    []*nats.Subscription
}

// GetNatsSource define new NatsSource, subscribing to every catalog variable
func GetNatsSource(
	client core.NatsClient, prefix string, catalog common.Catalog,
) (*NatsSource, error) {
	logTags := log.Fields{
		"module":    "source",
		"component": "nats-source",
		"instance":  prefix,
	}
	instance := &NatsSource{
		Component: common.Component{LogTags: logTags},
		prefix:    prefix,
		catalog:   catalog,
		latest:    make(map[string]float64),
	}
	for _, variable := range catalog.Names() {
		sub, err := client.Subscribe(instance.subject(variable), instance.handler(variable))
		if err != nil {
			instance.Close()
			return nil, fmt.Errorf("%w: %s", common.ErrConnection, err.Error())
		}
		instance.subs = append(instance.subs, sub)
	}
	if err := client.Conn().Flush(); err != nil {
		instance.Close()
		return nil, fmt.Errorf("%w: %s", common.ErrConnection, err.Error())
	}
	log.WithFields(logTags).Infof("Listening for samples of %d variables", len(instance.subs))
	return instance, nil
}

// subject the NATS subject carrying one variable
func (s *NatsSource) subject(variable string) string {
	return fmt.Sprintf("%s.%s", s.prefix, variable)
}

func (s *NatsSource) handler(variable string) nats.MsgHandler {
	return func(msg *nats.Msg) {
		value, err := strconv.ParseFloat(strings.TrimSpace(string(msg.Data)), 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
			log.WithFields(s.LogTags).Debugf(
				"Ignoring invalid value '%s' on %s", string(msg.Data), msg.Subject,
			)
			return
		}
		s.lock.Lock()
		defer s.lock.Unlock()
		s.latest[variable] = value
	}
}

// Sample return the latest value seen for the variable
func (s *NatsSource) Sample(variable string) float64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.latest[variable]
}

// Close drop all NATS subscriptions
func (s *NatsSource) Close() {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.WithError(err).WithFields(s.LogTags).Errorf("Unsubscribe %s failed", sub.Subject)
		}
	}
	s.subs = nil
}
