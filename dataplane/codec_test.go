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
	"errors"
	"math"
	"testing"

	"github.com/alwitt/telestream/common"
	"github.com/stretchr/testify/assert"
)

func TestSampleCodec(t *testing.T) {
	assert := assert.New(t)

	// Case 0: round trip
	{
		payload := EncodeSample("Velocità", -3.25)
		assert.Equal("Velocità:-3.25", string(payload))
		sample, err := DecodeSample(payload)
		assert.Nil(err)
		assert.Equal("Velocità", sample.Variable)
		assert.InDelta(-3.25, sample.Value, 1e-12)
		assert.Equal(int64(0), sample.Sequence)
	}

	// Case 1: round trip of awkward values
	{
		for _, value := range []float64{0, 1e-9, 123456789.125, -9.999999999, math.MaxFloat64} {
			sample, err := DecodeSample(EncodeSample("Altitudine", value))
			assert.Nil(err)
			assert.Equal(value, sample.Value)
		}
	}

	// Case 2: payload from a python style sender, trailing whitespace
	{
		sample, err := DecodeSample([]byte("Temperatura:23.5\n"))
		assert.Nil(err)
		assert.Equal("Temperatura", sample.Variable)
		assert.Equal(23.5, sample.Value)
	}

	// Case 3: scientific notation is still a decimal float
	{
		sample, err := DecodeSample([]byte("Pressione:1.5e-05"))
		assert.Nil(err)
		assert.InDelta(1.5e-05, sample.Value, 1e-15)
	}

	// Case 4: malformed payloads
	{
		for _, payload := range []string{
			"garbage",
			"",
			":12.0",
			"Temperatura:",
			"Temperatura:abc",
			"Temperatura:1.0:2.0",
			"Temperatura:NaN",
			"Temperatura:+Inf",
			"Temperatura:-inf",
			string([]byte{0xff, 0xfe, ':', '1'}),
		} {
			_, err := DecodeSample([]byte(payload))
			assert.True(errors.Is(err, common.ErrDecode), payload)
		}
	}
}
