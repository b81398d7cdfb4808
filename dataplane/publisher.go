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
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/alwitt/telestream/common"
	"github.com/apex/log"
)

// ChannelPublisher periodically sends samples of one variable to one data port
type ChannelPublisher interface {
	// Start begin the publish loop
	Start(wg *sync.WaitGroup) error
	// Stop signal the publish loop to stop, and wait for it to exit. Safe to call more
	// than once, and before Start.
	Stop() error
	// Port the data port samples are sent to
	Port() int
}

// channelPublisherImpl implements ChannelPublisher
type channelPublisherImpl struct {
	common.Component
	variable         string
	port             int
	cadence          time.Duration
	source           SampleSource
	metrics          *Metrics
	conn             *net.UDPConn
	lock             sync.Mutex
	started          bool
	operationContext context.Context
	contextCancel    context.CancelFunc
	done             chan struct{}
}

// GetChannelPublisher define new ChannelPublisher sending to targetHost:port.
//
// The datagram socket is opened here, so a publisher which can not reach its target
// fails before anything is started.
func GetChannelPublisher(
	ctxt context.Context,
	variable string,
	targetHost string,
	port int,
	cadence time.Duration,
	source SampleSource,
	metrics *Metrics,
) (ChannelPublisher, error) {
	logTags := log.Fields{
		"module":    "dataplane",
		"component": "channel-publisher",
		"variable":  variable,
		"port":      port,
	}
	if cadence <= 0 {
		return nil, fmt.Errorf("publish cadence must be positive, got %s", cadence)
	}
	target, err := net.ResolveUDPAddr("udp", net.JoinHostPort(targetHost, strconv.Itoa(port)))
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to resolve target")
		return nil, fmt.Errorf("%w: %s", common.ErrPortConflict, err.Error())
	}
	conn, err := net.DialUDP("udp", nil, target)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to open datagram socket")
		return nil, fmt.Errorf("%w: %s", common.ErrPortConflict, err.Error())
	}
	optCtxt, cancel := context.WithCancel(ctxt)
	return &channelPublisherImpl{
		Component:        common.Component{LogTags: logTags},
		variable:         variable,
		port:             port,
		cadence:          cadence,
		source:           source,
		metrics:          metrics,
		conn:             conn,
		operationContext: optCtxt,
		contextCancel:    cancel,
		done:             make(chan struct{}),
	}, nil
}

// Port the data port samples are sent to
func (p *channelPublisherImpl) Port() int {
	return p.port
}

// Start begin the publish loop
func (p *channelPublisherImpl) Start(wg *sync.WaitGroup) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.started {
		return fmt.Errorf("already started")
	}
	if p.operationContext.Err() != nil {
		return fmt.Errorf("publisher already stopped")
	}
	p.started = true
	p.metrics.ActiveChannels.Inc()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(p.done)
		defer p.metrics.ActiveChannels.Dec()
		defer func() {
			if err := p.conn.Close(); err != nil {
				log.WithError(err).WithFields(p.LogTags).Error("Socket close failed")
			}
		}()
		log.WithFields(p.LogTags).Info("Starting publish loop")
		defer log.WithFields(p.LogTags).Info("Publish loop exiting")
		ticker := time.NewTicker(p.cadence)
		defer ticker.Stop()
		for {
			p.publishOne()
			select {
			case <-p.operationContext.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// publishOne draw and send one sample. Send failures are counted and otherwise ignored.
func (p *channelPublisherImpl) publishOne() {
	value := p.source.Sample(p.variable)
	if _, err := p.conn.Write(EncodeSample(p.variable, value)); err != nil {
		log.WithError(err).WithFields(p.LogTags).Debug("Datagram send failed")
		p.metrics.SendErrors.WithLabelValues(p.variable).Inc()
		return
	}
	p.metrics.DatagramsSent.WithLabelValues(p.variable).Inc()
}

// Stop signal the publish loop to stop, and wait for it to exit
func (p *channelPublisherImpl) Stop() error {
	p.lock.Lock()
	started := p.started
	p.lock.Unlock()
	p.contextCancel()
	if !started {
		// Loop never ran, release the socket here
		p.lock.Lock()
		defer p.lock.Unlock()
		if !p.started && p.conn != nil {
			err := p.conn.Close()
			p.conn = nil
			return err
		}
		return nil
	}
	<-p.done
	return nil
}
