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
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestCatalogDefinition(t *testing.T) {
	assert := assert.New(t)
	validate := validator.New()

	// Case 0: the default catalog
	{
		catalog, err := NewCatalog(DefaultCatalog, validate)
		assert.Nil(err)
		assert.Equal(DefaultCatalog, catalog.Names())
		assert.True(catalog.Contains("Umidità"))
		assert.False(catalog.Contains("Umidita"))
	}

	// Case 1: empty catalog
	{
		_, err := NewCatalog([]string{}, validate)
		assert.True(errors.Is(err, ErrProtocol))
	}

	// Case 2: duplicate names
	{
		_, err := NewCatalog([]string{"Temperatura", "Temperatura"}, validate)
		assert.True(errors.Is(err, ErrProtocol))
	}

	// Case 3: names with wire delimiters
	{
		for _, name := range []string{"a,b", "a:b", "", " padded", "line\nbreak"} {
			_, err := NewCatalog([]string{name}, validate)
			assert.True(errors.Is(err, ErrProtocol), name)
		}
	}
}
