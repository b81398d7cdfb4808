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
	"math/rand"
	"sync"
	"time"
)

// RandomSource draws values uniformly from [min, max)
type RandomSource struct {
	min  float64
	max  float64
	lock sync.Mutex
	rng  *rand.Rand
}

// NewRandomSource define new RandomSource. A zero seed seeds from the clock.
func NewRandomSource(min, max float64, seed int64) (*RandomSource, error) {
	if !(max > min) {
		return nil, fmt.Errorf("random source range [%f, %f) is empty", min, max)
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomSource{min: min, max: max, rng: rand.New(rand.NewSource(seed))}, nil
}

// Sample draw one value. The variable name does not affect the distribution.
func (s *RandomSource) Sample(variable string) float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.min + s.rng.Float64()*(s.max-s.min)
}
