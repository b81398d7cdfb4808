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
	"sort"
	"sync"
	"time"

	"github.com/alwitt/telestream/common"
)

// Point one entry of a variable's time series
type Point struct {
	Sequence   int64     `json:"sequence"`
	Value      float64   `json:"value"`
	ReceivedAt time.Time `json:"received_at"`
}

// SeriesStore keeps the most recent points of every variable
type SeriesStore struct {
	lock     sync.RWMutex
	capacity int
	series   map[string][]Point
}

// NewSeriesStore define new SeriesStore retaining up to capacity points per variable
func NewSeriesStore(capacity int) (*SeriesStore, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("series capacity must be positive, got %d", capacity)
	}
	return &SeriesStore{capacity: capacity, series: make(map[string][]Point)}, nil
}

// Consume append a sample to its variable's series
func (s *SeriesStore) Consume(sample common.Sample) {
	s.lock.Lock()
	defer s.lock.Unlock()
	points := append(s.series[sample.Variable], Point{
		Sequence: sample.Sequence, Value: sample.Value, ReceivedAt: time.Now(),
	})
	if len(points) > s.capacity {
		// Copy forward so the backing array does not grow without bound
		trimmed := make([]Point, s.capacity, s.capacity*2)
		copy(trimmed, points[len(points)-s.capacity:])
		points = trimmed
	}
	s.series[sample.Variable] = points
}

// Clear drop all points of a variable
func (s *SeriesStore) Clear(variable string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.series, variable)
}

// Series snapshot of a variable's points, oldest first
func (s *SeriesStore) Series(variable string) []Point {
	s.lock.RLock()
	defer s.lock.RUnlock()
	points := s.series[variable]
	result := make([]Point, len(points))
	copy(result, points)
	return result
}

// Variables list the variables holding at least one point
func (s *SeriesStore) Variables() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	result := make([]string, 0, len(s.series))
	for variable := range s.series {
		result = append(result, variable)
	}
	sort.Strings(result)
	return result
}
