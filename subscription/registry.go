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

package subscription

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/alwitt/telestream/common"
	"github.com/apex/log"
)

// State lifecycle state of a subscription
type State string

const (
	// StatePending slot and port reserved, channel not yet running
	StatePending State = "PENDING"
	// StateActive channel running
	StateActive State = "ACTIVE"
	// StateStopping channel told to stop, slot still held
	StateStopping State = "STOPPING"
	// StateStopped channel fully terminated, record no longer in the registry
	StateStopped State = "STOPPED"
)

// Subscription entry describing one variable's data channel
type Subscription struct {
	Variable  string    `json:"variable"`
	Slot      int       `json:"slot"`
	Port      int       `json:"port"`
	State     State     `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
}

// String toString function
func (s Subscription) String() string {
	return fmt.Sprintf("%s@%d(%s)", s.Variable, s.Port, s.State)
}

// PortForSlot the data port of a subscription slot
func PortForSlot(basePort int, slot int) int {
	return basePort + slot
}

// ========================================================================================

// Registry bounded map of variable to allocated port and channel state.
//
// All state is owned by the task processor loop; slot allocation, the capacity check,
// and every state transition run as one unit on that loop.
type Registry interface {
	// Reserve allocate the lowest free slot for a variable, in PENDING state
	Reserve(ctxt context.Context, variable string) (Subscription, error)
	// Activate move a PENDING subscription to ACTIVE
	Activate(ctxt context.Context, variable string) (Subscription, error)
	// MarkStopping move a PENDING or ACTIVE subscription to STOPPING
	MarkStopping(ctxt context.Context, variable string) (Subscription, error)
	// Release remove a subscription, freeing its slot. Returns the final record
	// in STOPPED state.
	Release(ctxt context.Context, variable string) (Subscription, error)
	// Get fetch the record of a tracked variable
	Get(ctxt context.Context, variable string) (Subscription, error)
	// IsActive whether the variable is tracked and ACTIVE
	IsActive(ctxt context.Context, variable string) bool
	// List all tracked subscriptions, ordered by slot
	List(ctxt context.Context) ([]Subscription, error)
	// MaxSubscriptions the registry capacity
	MaxSubscriptions() int
	// BasePort the data port of slot 0
	BasePort() int
}

// registryImpl implements Registry
type registryImpl struct {
	common.Component
	tp          common.TaskProcessor
	basePort    int
	maxSubs     int
	subsByName  map[string]*Subscription
	slotsInUse  map[int]string
	currentTime func() time.Time
}

// DefineRegistry create new subscription registry operating on a task processor.
//
// The caller is responsible for starting the task processor event loop.
func DefineRegistry(
	tp common.TaskProcessor, instance string, basePort int, maxSubscriptions int,
) (Registry, error) {
	logTags := log.Fields{
		"module": "subscription", "component": "registry", "instance": instance,
	}
	if maxSubscriptions < 1 {
		return nil, fmt.Errorf("max subscriptions must be at least 1, got %d", maxSubscriptions)
	}
	if basePort < 1 || basePort+maxSubscriptions-1 > 65535 {
		return nil, fmt.Errorf(
			"port range %d-%d is not valid", basePort, basePort+maxSubscriptions-1,
		)
	}
	instanceObj := registryImpl{
		Component:   common.Component{LogTags: logTags},
		tp:          tp,
		basePort:    basePort,
		maxSubs:     maxSubscriptions,
		subsByName:  make(map[string]*Subscription),
		slotsInUse:  make(map[int]string),
		currentTime: time.Now,
	}
	// Add handlers
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(registryOpReq{}), instanceObj.processOpRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(registryListReq{}), instanceObj.processListRequest,
	); err != nil {
		return nil, err
	}
	return &instanceObj, nil
}

// MaxSubscriptions the registry capacity
func (r *registryImpl) MaxSubscriptions() int {
	return r.maxSubs
}

// BasePort the data port of slot 0
func (r *registryImpl) BasePort() int {
	return r.basePort
}

// ----------------------------------------------------------------------------------------

type registryOp int

const (
	opReserve registryOp = iota
	opActivate
	opMarkStopping
	opRelease
	opGet
)

func (o registryOp) String() string {
	switch o {
	case opReserve:
		return "reserve"
	case opActivate:
		return "activate"
	case opMarkStopping:
		return "mark-stopping"
	case opRelease:
		return "release"
	default:
		return "get"
	}
}

type registryOpReq struct {
	op       registryOp
	variable string
	resultCB func(Subscription, error)
}

// submitOp submit a single variable operation and wait for its result
func (r *registryImpl) submitOp(
	ctxt context.Context, op registryOp, variable string,
) (Subscription, error) {
	complete := make(chan bool, 1)
	var record Subscription
	var processError error
	// Handler core processing result
	handler := func(result Subscription, err error) {
		record = result
		processError = err
		complete <- true
	}

	// Make the request
	request := registryOpReq{op: op, variable: variable, resultCB: handler}

	if err := r.tp.Submit(ctxt, request); err != nil {
		log.WithError(err).WithFields(r.LogTags).Errorf("Failed to submit %s request", op)
		return Subscription{}, err
	}

	// Wait for completion
	select {
	case <-complete:
		return record, processError
	case <-ctxt.Done():
		return Subscription{}, ctxt.Err()
	}
}

// Reserve allocate the lowest free slot for a variable, in PENDING state
func (r *registryImpl) Reserve(ctxt context.Context, variable string) (Subscription, error) {
	return r.submitOp(ctxt, opReserve, variable)
}

// Activate move a PENDING subscription to ACTIVE
func (r *registryImpl) Activate(ctxt context.Context, variable string) (Subscription, error) {
	return r.submitOp(ctxt, opActivate, variable)
}

// MarkStopping move a PENDING or ACTIVE subscription to STOPPING
func (r *registryImpl) MarkStopping(ctxt context.Context, variable string) (Subscription, error) {
	return r.submitOp(ctxt, opMarkStopping, variable)
}

// Release remove a subscription, freeing its slot
func (r *registryImpl) Release(ctxt context.Context, variable string) (Subscription, error) {
	return r.submitOp(ctxt, opRelease, variable)
}

// Get fetch the record of a tracked variable
func (r *registryImpl) Get(ctxt context.Context, variable string) (Subscription, error) {
	return r.submitOp(ctxt, opGet, variable)
}

// IsActive whether the variable is tracked and ACTIVE
func (r *registryImpl) IsActive(ctxt context.Context, variable string) bool {
	record, err := r.submitOp(ctxt, opGet, variable)
	if err != nil {
		return false
	}
	return record.State == StateActive
}

// processOpRequest support task processor, deal with single variable operations
func (r *registryImpl) processOpRequest(param interface{}) error {
	request, ok := param.(registryOpReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for registry operation", reflect.TypeOf(param),
		)
	}
	var record Subscription
	var err error
	switch request.op {
	case opReserve:
		record, err = r.ProcessReserve(request.variable)
	case opActivate:
		record, err = r.transition(request.variable, StateActive, StatePending)
	case opMarkStopping:
		record, err = r.transition(request.variable, StateStopping, StatePending, StateActive)
	case opRelease:
		record, err = r.ProcessRelease(request.variable)
	default:
		if existing, ok := r.subsByName[request.variable]; ok {
			record = *existing
		} else {
			err = fmt.Errorf("%w: %s", common.ErrNotSubscribed, request.variable)
		}
	}
	request.resultCB(record, err)
	return err
}

// ProcessReserve allocate the lowest free slot for a variable
func (r *registryImpl) ProcessReserve(variable string) (Subscription, error) {
	if existing, ok := r.subsByName[variable]; ok {
		return *existing, fmt.Errorf(
			"%w: %s already holds port %d", common.ErrAlreadySubscribed, variable, existing.Port,
		)
	}
	if len(r.subsByName) >= r.maxSubs {
		return Subscription{}, fmt.Errorf(
			"%w: %d of %d subscriptions in use", common.ErrCapacityExceeded, len(r.subsByName), r.maxSubs,
		)
	}
	// Lowest free slot. Without vacated slots this is the current member count.
	slot := -1
	for itr := 0; itr < r.maxSubs; itr++ {
		if _, inUse := r.slotsInUse[itr]; !inUse {
			slot = itr
			break
		}
	}
	if slot < 0 {
		return Subscription{}, fmt.Errorf(
			"%w: no free slot for %s", common.ErrPortConflict, variable,
		)
	}
	newRecord := &Subscription{
		Variable:  variable,
		Slot:      slot,
		Port:      PortForSlot(r.basePort, slot),
		State:     StatePending,
		UpdatedAt: r.currentTime(),
	}
	r.subsByName[variable] = newRecord
	r.slotsInUse[slot] = variable
	log.WithFields(r.LogTags).Debugf("Reserved %s", newRecord)
	return *newRecord, nil
}

// transition move a subscription into a new state
func (r *registryImpl) transition(
	variable string, newState State, allowedFrom ...State,
) (Subscription, error) {
	existing, ok := r.subsByName[variable]
	if !ok {
		return Subscription{}, fmt.Errorf("%w: %s", common.ErrNotSubscribed, variable)
	}
	allowed := false
	for _, state := range allowedFrom {
		if existing.State == state {
			allowed = true
			break
		}
	}
	if !allowed {
		return *existing, fmt.Errorf(
			"%s can not move from %s to %s", variable, existing.State, newState,
		)
	}
	existing.State = newState
	existing.UpdatedAt = r.currentTime()
	log.WithFields(r.LogTags).Debugf("Updated %s", existing)
	return *existing, nil
}

// ProcessRelease remove a subscription, freeing its slot
func (r *registryImpl) ProcessRelease(variable string) (Subscription, error) {
	existing, ok := r.subsByName[variable]
	if !ok {
		return Subscription{}, fmt.Errorf("%w: %s", common.ErrNotSubscribed, variable)
	}
	delete(r.subsByName, variable)
	delete(r.slotsInUse, existing.Slot)
	final := *existing
	final.State = StateStopped
	final.UpdatedAt = r.currentTime()
	log.WithFields(r.LogTags).Debugf("Released %s", final)
	return final, nil
}

// ----------------------------------------------------------------------------------------

type registryListReq struct {
	resultCB func([]Subscription)
}

// List all tracked subscriptions, ordered by slot
func (r *registryImpl) List(ctxt context.Context) ([]Subscription, error) {
	complete := make(chan bool, 1)
	var records []Subscription
	handler := func(result []Subscription) {
		records = result
		complete <- true
	}

	if err := r.tp.Submit(ctxt, registryListReq{resultCB: handler}); err != nil {
		log.WithError(err).WithFields(r.LogTags).Error("Failed to submit list request")
		return nil, err
	}

	select {
	case <-complete:
		return records, nil
	case <-ctxt.Done():
		return nil, ctxt.Err()
	}
}

// processListRequest support task processor, deal with list request
func (r *registryImpl) processListRequest(param interface{}) error {
	request, ok := param.(registryListReq)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for registry list", reflect.TypeOf(param),
		)
	}
	request.resultCB(r.ProcessList())
	return nil
}

// ProcessList all tracked subscriptions, ordered by slot
func (r *registryImpl) ProcessList() []Subscription {
	result := make([]Subscription, 0, len(r.subsByName))
	for _, record := range r.subsByName {
		result = append(result, *record)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Slot < result[j].Slot })
	return result
}
