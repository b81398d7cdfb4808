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
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/alwitt/telestream/common"
	"github.com/apex/log"
)

// ChannelSubscriber listens on one data port and forwards decoded samples to a sink
type ChannelSubscriber interface {
	// Start begin the receive loop
	Start(wg *sync.WaitGroup) error
	// Stop signal the receive loop to stop, and wait for it to exit and release the
	// socket. Safe to call more than once, and before Start.
	Stop() error
	// Port the data port being listened on
	Port() int
}

// channelSubscriberImpl implements ChannelSubscriber
type channelSubscriberImpl struct {
	common.Component
	variable         string
	port             int
	receiveTimeout   time.Duration
	sink             DataSink
	activeCheck      ActiveCheck
	metrics          *Metrics
	conn             *net.UDPConn
	lock             sync.Mutex
	started          bool
	operationContext context.Context
	contextCancel    context.CancelFunc
	done             chan struct{}
}

// GetChannelSubscriber define new ChannelSubscriber bound to listenOn:port.
//
// The socket is bound here; a port already in use fails with common.ErrPortConflict.
func GetChannelSubscriber(
	ctxt context.Context,
	variable string,
	listenOn string,
	port int,
	receiveTimeout time.Duration,
	sink DataSink,
	activeCheck ActiveCheck,
	metrics *Metrics,
) (ChannelSubscriber, error) {
	logTags := log.Fields{
		"module":    "dataplane",
		"component": "channel-subscriber",
		"variable":  variable,
		"port":      port,
	}
	if receiveTimeout <= 0 {
		return nil, fmt.Errorf("receive timeout must be positive, got %s", receiveTimeout)
	}
	local, err := net.ResolveUDPAddr("udp", net.JoinHostPort(listenOn, strconv.Itoa(port)))
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to resolve listen address")
		return nil, fmt.Errorf("%w: %s", common.ErrPortConflict, err.Error())
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to bind datagram socket")
		return nil, fmt.Errorf("%w: %s", common.ErrPortConflict, err.Error())
	}
	optCtxt, cancel := context.WithCancel(ctxt)
	return &channelSubscriberImpl{
		Component:        common.Component{LogTags: logTags},
		variable:         variable,
		port:             port,
		receiveTimeout:   receiveTimeout,
		sink:             sink,
		activeCheck:      activeCheck,
		metrics:          metrics,
		conn:             conn,
		operationContext: optCtxt,
		contextCancel:    cancel,
		done:             make(chan struct{}),
	}, nil
}

// Port the data port being listened on
func (s *channelSubscriberImpl) Port() int {
	return s.port
}

// keepRunning whether the receive loop should continue
func (s *channelSubscriberImpl) keepRunning() bool {
	return s.operationContext.Err() == nil && s.activeCheck(s.variable)
}

// Start begin the receive loop
func (s *channelSubscriberImpl) Start(wg *sync.WaitGroup) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return fmt.Errorf("already started")
	}
	if s.operationContext.Err() != nil {
		return fmt.Errorf("subscriber already stopped")
	}
	s.started = true
	s.metrics.ActiveChannels.Inc()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(s.done)
		defer s.metrics.ActiveChannels.Dec()
		defer func() {
			if err := s.conn.Close(); err != nil {
				log.WithError(err).WithFields(s.LogTags).Error("Socket close failed")
			}
		}()
		log.WithFields(s.LogTags).Info("Starting receive loop")
		defer log.WithFields(s.LogTags).Info("Receive loop exiting")
		// One spare byte exposes datagrams which the read truncated
		buf := make([]byte, MaxDatagramSize+1)
		for s.keepRunning() {
			if err := s.conn.SetReadDeadline(time.Now().Add(s.receiveTimeout)); err != nil {
				log.WithError(err).WithFields(s.LogTags).Error("Unable to set read deadline")
				return
			}
			n, _, err := s.conn.ReadFromUDP(buf)
			if err != nil {
				if errors.Is(err, os.ErrDeadlineExceeded) {
					continue
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				log.WithError(err).WithFields(s.LogTags).Debug("Datagram read failed")
				continue
			}
			// Data arriving after the channel was deactivated is dropped silently
			if !s.keepRunning() {
				return
			}
			if n > MaxDatagramSize {
				log.WithFields(s.LogTags).Debugf("Dropping datagram over %d bytes", MaxDatagramSize)
				s.metrics.DecodeErrors.WithLabelValues(s.variable).Inc()
				continue
			}
			s.handleDatagram(buf[:n])
		}
	}()
	return nil
}

// handleDatagram decode and forward one datagram. Malformed input is counted and dropped.
func (s *channelSubscriberImpl) handleDatagram(payload []byte) {
	sample, err := DecodeSample(payload)
	if err != nil {
		log.WithError(err).WithFields(s.LogTags).Debug("Dropping datagram")
		s.metrics.DecodeErrors.WithLabelValues(s.variable).Inc()
		return
	}
	if sample.Variable != s.variable {
		// Left over traffic for the previous owner of this port
		log.WithFields(s.LogTags).Debugf("Dropping datagram for %s", sample.Variable)
		s.metrics.StaleDatagrams.WithLabelValues(s.variable).Inc()
		return
	}
	s.metrics.DatagramsReceived.WithLabelValues(s.variable).Inc()
	s.sink.Deliver(sample)
}

// Stop signal the receive loop to stop, and wait for it to exit
func (s *channelSubscriberImpl) Stop() error {
	s.lock.Lock()
	started := s.started
	s.lock.Unlock()
	s.contextCancel()
	if !started {
		s.lock.Lock()
		defer s.lock.Unlock()
		if !s.started && s.conn != nil {
			err := s.conn.Close()
			s.conn = nil
			return err
		}
		return nil
	}
	<-s.done
	return nil
}
