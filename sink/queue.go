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
	"context"
	"fmt"
	"sync"

	"github.com/alwitt/telestream/common"
	"github.com/apex/log"
)

// SampleConsumer processes samples drained from the delivery queue
type SampleConsumer interface {
	Consume(sample common.Sample)
}

// VariableClearer is a consumer which holds per variable state that must be dropped
// when the variable is subscribed again
type VariableClearer interface {
	Clear(variable string)
}

// ConsumerFunc adapts a function to SampleConsumer
type ConsumerFunc func(sample common.Sample)

// Consume calls f(sample)
func (f ConsumerFunc) Consume(sample common.Sample) {
	f(sample)
}

// DeliveryQueue decouples the data channel receive loops from sample consumption.
//
// Deliver never blocks: when the queue is full the sample is dropped and counted.
// A single drain goroutine assigns the per variable sequence number and hands each
// sample to the consumers in registration order.
type DeliveryQueue interface {
	// Deliver enqueue one sample
	Deliver(sample common.Sample)
	// Reset enqueue a clear marker for a variable. Samples queued before the marker
	// reach the consumers before every VariableClearer consumer drops the variable.
	Reset(ctxt context.Context, variable string) error
	// Start begin draining the queue
	Start(wg *sync.WaitGroup) error
	// Stop stop draining and wait for the drain goroutine to exit
	Stop() error
}

// queueEntry is either a sample or a clear marker for resetVariable
type queueEntry struct {
	sample        common.Sample
	resetVariable string
}

// deliveryQueueImpl implements DeliveryQueue
type deliveryQueueImpl struct {
	common.Component
	queue            chan queueEntry
	consumers        []SampleConsumer
	sequences        map[string]int64
	metrics          *Metrics
	lock             sync.Mutex
	started          bool
	operationContext context.Context
	contextCancel    context.CancelFunc
	done             chan struct{}
}

// GetDeliveryQueue define new DeliveryQueue
func GetDeliveryQueue(
	ctxt context.Context, depth int, metrics *Metrics, consumers ...SampleConsumer,
) (DeliveryQueue, error) {
	if depth < 1 {
		return nil, fmt.Errorf("delivery queue depth must be positive, got %d", depth)
	}
	optCtxt, cancel := context.WithCancel(ctxt)
	return &deliveryQueueImpl{
		Component: common.Component{LogTags: log.Fields{
			"module": "sink", "component": "delivery-queue",
		}},
		queue:            make(chan queueEntry, depth),
		consumers:        consumers,
		sequences:        make(map[string]int64),
		metrics:          metrics,
		operationContext: optCtxt,
		contextCancel:    cancel,
		done:             make(chan struct{}),
	}, nil
}

// Deliver enqueue one sample, dropping it if the queue is full
func (q *deliveryQueueImpl) Deliver(sample common.Sample) {
	select {
	case q.queue <- queueEntry{sample: sample}:
		q.metrics.QueueLength.Set(float64(len(q.queue)))
	default:
		log.WithFields(q.LogTags).Debugf("Queue full, dropping %s", sample.Variable)
		q.metrics.SamplesDropped.WithLabelValues(sample.Variable).Inc()
	}
}

// Reset enqueue a clear marker, waiting for room in the queue
func (q *deliveryQueueImpl) Reset(ctxt context.Context, variable string) error {
	select {
	case q.queue <- queueEntry{resetVariable: variable}:
		q.metrics.QueueLength.Set(float64(len(q.queue)))
		return nil
	case <-ctxt.Done():
		return ctxt.Err()
	case <-q.operationContext.Done():
		return q.operationContext.Err()
	}
}

// Start begin draining the queue
func (q *deliveryQueueImpl) Start(wg *sync.WaitGroup) error {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.started {
		return fmt.Errorf("already started")
	}
	q.started = true
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(q.done)
		log.WithFields(q.LogTags).Info("Starting drain loop")
		defer log.WithFields(q.LogTags).Info("Drain loop exiting")
		for {
			select {
			case <-q.operationContext.Done():
				return
			case entry := <-q.queue:
				q.metrics.QueueLength.Set(float64(len(q.queue)))
				if entry.resetVariable != "" {
					q.clear(entry.resetVariable)
					continue
				}
				q.dispatch(entry.sample)
			}
		}
	}()
	return nil
}

// dispatch stamp the sequence and fan out to the consumers
func (q *deliveryQueueImpl) dispatch(sample common.Sample) {
	q.sequences[sample.Variable]++
	sample.Sequence = q.sequences[sample.Variable]
	q.metrics.SamplesDelivered.WithLabelValues(sample.Variable).Inc()
	for _, consumer := range q.consumers {
		consumer.Consume(sample)
	}
}

// clear drop the variable from every consumer holding state for it
func (q *deliveryQueueImpl) clear(variable string) {
	log.WithFields(q.LogTags).Debugf("Clearing %s", variable)
	for _, consumer := range q.consumers {
		if clearer, ok := consumer.(VariableClearer); ok {
			clearer.Clear(variable)
		}
	}
}

// Stop stop draining and wait for the drain goroutine to exit
func (q *deliveryQueueImpl) Stop() error {
	q.lock.Lock()
	started := q.started
	q.lock.Unlock()
	q.contextCancel()
	if started {
		<-q.done
	}
	return nil
}
