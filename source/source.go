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

	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/core"
	"github.com/alwitt/telestream/dataplane"
)

// Source kinds accepted in the server config
const (
	KindRandom   = "random"
	KindSine     = "sine"
	KindSquare   = "square"
	KindTriangle = "triangle"
	KindSawtooth = "sawtooth"
	KindNATS     = "nats"
)

// DefineSampleSource build the sample source selected by the config.
//
// natsClient is only needed for the "nats" kind. The returned close function releases
// whatever the source holds and is always safe to call.
func DefineSampleSource(
	config common.SourceConfig,
	catalog common.Catalog,
	natsClient *core.NatsClient,
) (dataplane.SampleSource, func(), error) {
	noop := func() {}
	switch config.Kind {
	case KindRandom:
		src, err := NewRandomSource(config.Min, config.Max, 0)
		return src, noop, err
	case KindSine, KindSquare, KindTriangle, KindSawtooth:
		src, err := NewWaveformSource(config.Kind, config.Min, config.Max)
		return src, noop, err
	case KindNATS:
		if natsClient == nil {
			return nil, noop, fmt.Errorf("nats source requires a NATS client")
		}
		src, err := GetNatsSource(*natsClient, config.NATSSubjectPrefix, catalog)
		if err != nil {
			return nil, noop, err
		}
		return src, src.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown sample source kind '%s'", config.Kind)
	}
}
