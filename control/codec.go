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

package control

import (
	"fmt"
	"strings"

	"github.com/alwitt/telestream/common"
	"github.com/go-playground/validator/v10"
)

// Control channel tokens
const (
	// CatalogDelimiter separates names in the catalog line
	CatalogDelimiter = ","
	// UnsubscribePrefix prefixes the variable name of an unsubscribe command
	UnsubscribePrefix = "STOP:"
	// StopAllToken unsubscribes every variable
	StopAllToken = "STOP_UDP"
	// lineTerminator ends every control message in both directions
	lineTerminator = "\n"
)

// CommandKind type of control command
type CommandKind int

// Command kinds
const (
	CommandSubscribe CommandKind = iota
	CommandUnsubscribe
	CommandStopAll
)

func (k CommandKind) String() string {
	switch k {
	case CommandSubscribe:
		return "subscribe"
	case CommandUnsubscribe:
		return "unsubscribe"
	default:
		return "stop-all"
	}
}

// Command one parsed control command
type Command struct {
	Kind     CommandKind
	Variable string
}

// String toString function
func (c Command) String() string {
	if c.Kind == CommandStopAll {
		return c.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", c.Kind, c.Variable)
}

// FormatCatalog serialize the catalog line, without terminator
func FormatCatalog(catalog common.Catalog) string {
	return strings.Join(catalog.Names(), CatalogDelimiter)
}

// ParseCatalog parse a catalog line. Empty or invalid catalogs fail with
// common.ErrProtocol.
func ParseCatalog(line string, validate *validator.Validate) (common.Catalog, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("%w: empty catalog", common.ErrProtocol)
	}
	return common.NewCatalog(strings.Split(line, CatalogDelimiter), validate)
}

// FormatCommand serialize a command, without terminator
func FormatCommand(cmd Command) string {
	switch cmd.Kind {
	case CommandUnsubscribe:
		return UnsubscribePrefix + cmd.Variable
	case CommandStopAll:
		return StopAllToken
	default:
		return cmd.Variable
	}
}

// ParseCommand parse one command line. Malformed input fails with common.ErrProtocol.
// Whether the variable exists is not checked here.
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return Command{}, fmt.Errorf("%w: empty command", common.ErrProtocol)
	case line == StopAllToken:
		return Command{Kind: CommandStopAll}, nil
	case strings.HasPrefix(line, UnsubscribePrefix):
		variable := strings.TrimPrefix(line, UnsubscribePrefix)
		if err := checkCommandVariable(variable); err != nil {
			return Command{}, err
		}
		return Command{Kind: CommandUnsubscribe, Variable: variable}, nil
	case line == "STOP":
		return Command{}, fmt.Errorf("%w: unsubscribe without variable", common.ErrProtocol)
	default:
		if err := checkCommandVariable(line); err != nil {
			return Command{}, err
		}
		return Command{Kind: CommandSubscribe, Variable: line}, nil
	}
}

func checkCommandVariable(variable string) error {
	if variable == "" {
		return fmt.Errorf("%w: missing variable", common.ErrProtocol)
	}
	if strings.ContainsAny(variable, CatalogDelimiter+":") {
		return fmt.Errorf("%w: malformed variable '%s'", common.ErrProtocol, variable)
	}
	return nil
}
