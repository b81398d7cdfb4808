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

package common

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// Variable is one named entry of the telemetry catalog
type Variable struct {
	Name string `json:"name" validate:"required,excludesall=0x2C:"`
}

// Catalog is the ordered set of variables offered by a source for one session
type Catalog []Variable

// NewCatalog build a catalog from a list of names, validating each name
func NewCatalog(names []string, validate *validator.Validate) (Catalog, error) {
	result := make(Catalog, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		if err := ValidateVariableName(name, validate); err != nil {
			return nil, err
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate variable '%s'", ErrProtocol, name)
		}
		seen[name] = true
		result = append(result, Variable{Name: name})
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: empty catalog", ErrProtocol)
	}
	return result, nil
}

// Names list the variable names in catalog order
func (c Catalog) Names() []string {
	result := make([]string, len(c))
	for idx, v := range c {
		result[idx] = v.Name
	}
	return result
}

// Contains whether the catalog offers a variable
func (c Catalog) Contains(name string) bool {
	for _, v := range c {
		if v.Name == name {
			return true
		}
	}
	return false
}

// ValidateVariableName verify a variable name can travel on both wire formats.
//
// Names may not contain the catalog delimiter ',' nor the sample delimiter ':'.
func ValidateVariableName(name string, validate *validator.Validate) error {
	if err := validate.Struct(&Variable{Name: name}); err != nil {
		return fmt.Errorf("%w: invalid variable name '%s': %s", ErrProtocol, name, err.Error())
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: variable name '%s' has surrounding whitespace", ErrProtocol, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: variable name '%s' has control characters", ErrProtocol, name)
		}
	}
	return nil
}

// Sample one measurement of a variable.
//
// Sequence is assigned by the consumer on arrival and never transmitted.
type Sample struct {
	Variable string  `json:"variable"`
	Value    float64 `json:"value"`
	Sequence int64   `json:"sequence"`
}

// String toString function
func (s Sample) String() string {
	return fmt.Sprintf("%s[%d]=%g", s.Variable, s.Sequence, s.Value)
}
