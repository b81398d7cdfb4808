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
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/alwitt/telestream/common"
)

// MaxDatagramSize upper bound of a data channel payload
const MaxDatagramSize = 2048

// SampleSource produces a value for a named variable on demand
type SampleSource interface {
	// Sample draw one value for a variable
	Sample(variable string) float64
}

// DataSink consumes decoded samples. Deliver must not block materially longer than
// one datagram interval.
type DataSink interface {
	// Deliver hand over one sample
	Deliver(sample common.Sample)
}

// ActiveCheck reports whether a variable's channel should keep listening
type ActiveCheck func(variable string) bool

// EncodeSample encode a sample into the data channel payload "<variable>:<value>"
func EncodeSample(variable string, value float64) []byte {
	return []byte(fmt.Sprintf("%s:%s", variable, strconv.FormatFloat(value, 'f', -1, 64)))
}

// DecodeSample decode a data channel payload.
//
// The payload must be UTF-8 text split by its first ':' into a non-empty name and a
// finite decimal value. Sequence is left at zero for the consumer to assign.
func DecodeSample(payload []byte) (common.Sample, error) {
	if !utf8.Valid(payload) {
		return common.Sample{}, fmt.Errorf("%w: payload is not UTF-8", common.ErrDecode)
	}
	message := strings.TrimSpace(string(payload))
	parts := strings.SplitN(message, ":", 2)
	if len(parts) != 2 {
		return common.Sample{}, fmt.Errorf("%w: no delimiter in '%s'", common.ErrDecode, message)
	}
	if len(parts[0]) == 0 {
		return common.Sample{}, fmt.Errorf("%w: no variable name in '%s'", common.ErrDecode, message)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return common.Sample{}, fmt.Errorf("%w: %s", common.ErrDecode, err.Error())
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return common.Sample{}, fmt.Errorf("%w: value in '%s' is not finite", common.ErrDecode, message)
	}
	return common.Sample{Variable: parts[0], Value: value}, nil
}
