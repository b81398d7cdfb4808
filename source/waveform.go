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
	"sync"
)

// waveformSteps samples per period of the table driven waveforms
const waveformSteps = 16

// generator produces the next point of a unit waveform in [-1, 1]
type generator interface {
	Next() float64
}

type tableGenerator struct {
	factors []float64
	index   int
}

func (g *tableGenerator) Next() float64 {
	f := g.factors[g.index]
	g.index = (g.index + 1) % len(g.factors)
	return f
}

type sineGenerator struct {
	step float64
	x    float64
}

func (g *sineGenerator) Next() float64 {
	f := math.Sin(g.x)
	g.x = math.Mod(g.x+g.step, 2*math.Pi)
	return f
}

var (
	squareTable = buildTable(func(i int) float64 {
		if i < waveformSteps/2 {
			return 1
		}
		return -1
	})
	triangleTable = buildTable(func(i int) float64 {
		half := waveformSteps / 2
		if i <= half {
			return -1 + 2*float64(i)/float64(half)
		}
		return 1 - 2*float64(i-half)/float64(half)
	})
	sawtoothTable = buildTable(func(i int) float64 { return -1 + 2*float64(i)/float64(waveformSteps) })
)

func buildTable(point func(i int) float64) []float64 {
	table := make([]float64, waveformSteps)
	for i := range table {
		table[i] = point(i)
	}
	return table
}

// WaveformSource emits a periodic waveform scaled onto [min, max]. Each variable walks
// its own copy of the waveform, starting from the beginning of the period.
type WaveformSource struct {
	kind       string
	mid        float64
	amplitude  float64
	lock       sync.Mutex
	generators map[string]generator
}

// NewWaveformSource define new WaveformSource of the given kind
func NewWaveformSource(kind string, min, max float64) (*WaveformSource, error) {
	if !(max > min) {
		return nil, fmt.Errorf("waveform range [%f, %f] is empty", min, max)
	}
	if _, err := newGenerator(kind); err != nil {
		return nil, err
	}
	return &WaveformSource{
		kind:       kind,
		mid:        (max + min) / 2,
		amplitude:  (max - min) / 2,
		generators: make(map[string]generator),
	}, nil
}

func newGenerator(kind string) (generator, error) {
	switch kind {
	case KindSine:
		return &sineGenerator{step: 2 * math.Pi / waveformSteps}, nil
	case KindSquare:
		return &tableGenerator{factors: squareTable}, nil
	case KindTriangle:
		return &tableGenerator{factors: triangleTable}, nil
	case KindSawtooth:
		return &tableGenerator{factors: sawtoothTable}, nil
	default:
		return nil, fmt.Errorf("unknown waveform '%s'", kind)
	}
}

// Sample produce the next point of the variable's waveform
func (s *WaveformSource) Sample(variable string) float64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	gen, ok := s.generators[variable]
	if !ok {
		// kind was checked at construction
		gen, _ = newGenerator(s.kind)
		s.generators[variable] = gen
	}
	return s.mid + s.amplitude*gen.Next()
}

// Reset restart the variable's waveform from the beginning of the period
func (s *WaveformSource) Reset(variable string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	delete(s.generators, variable)
}
