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

import "errors"

// Error taxonomy shared by the control plane and the data plane. Call sites wrap
// these with fmt.Errorf("%w: ...") and callers match with errors.Is.
var (
	// ErrConnection control socket unreachable or closed. Ends the session.
	ErrConnection = errors.New("connection error")
	// ErrProtocol malformed catalog or command. The message is dropped.
	ErrProtocol = errors.New("protocol error")
	// ErrUnknownVariable command names a variable outside the catalog
	ErrUnknownVariable = errors.New("unknown variable")
	// ErrCapacityExceeded subscribe attempted at the subscription limit
	ErrCapacityExceeded = errors.New("capacity exceeded")
	// ErrAlreadySubscribed subscribe attempted for a variable already tracked
	ErrAlreadySubscribed = errors.New("already subscribed")
	// ErrNotSubscribed operation on a variable that is not tracked
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrDecode malformed datagram payload
	ErrDecode = errors.New("decode error")
	// ErrPortConflict allocation collides with an in-use port
	ErrPortConflict = errors.New("port conflict")
)
