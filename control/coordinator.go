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
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/dataplane"
	"github.com/alwitt/telestream/subscription"
	"github.com/apex/log"
	"github.com/google/uuid"
)

// Connection policies when a control connection arrives while one is active
const (
	PolicyPreempt = "preempt"
	PolicyReject  = "reject"
)

// teardownTimeout bounds registry calls made while tearing down a session
const teardownTimeout = time.Second * 5

// Coordinator server side owner of the control channel. One control connection is
// served at a time.
type Coordinator interface {
	// Start bind the control socket and begin accepting connections
	Start(wg *sync.WaitGroup) error
	// HandleCommand apply one control command on behalf of the active session
	HandleCommand(ctxt context.Context, raw string) error
	// Subscriptions list the subscriptions of the active session
	Subscriptions(ctxt context.Context) ([]subscription.Subscription, error)
	// Catalog the variables offered to viewers
	Catalog() common.Catalog
	// Addr the bound control address, nil before Start
	Addr() net.Addr
	// Stop close the control socket, end the active session, stop all publishers
	Stop() error
}

// CoordinatorParams coordinator parameters
type CoordinatorParams struct {
	// Catalog variables offered to viewers
	Catalog common.Catalog
	// ListenOn control socket interface
	ListenOn string
	// Port control socket port. 0 picks a free port.
	Port int
	// Policy one of PolicyPreempt or PolicyReject
	Policy string
	// BasePort data port of slot 0
	BasePort int
	// MaxSubscriptions concurrent subscription limit
	MaxSubscriptions int
	// Cadence publish interval
	Cadence time.Duration
	// TargetHost when set, data is sent here instead of the viewer's control address
	TargetHost string
	// Source sample source
	Source dataplane.SampleSource
	// DataMetrics publisher metrics
	DataMetrics *dataplane.Metrics
	// ControlMetrics control channel metrics
	ControlMetrics *Metrics
}

// controlSession one accepted control connection
type controlSession struct {
	id         string
	conn       net.Conn
	targetHost string
	logTags    log.Fields
	done       chan struct{}
}

// coordinatorImpl implements Coordinator
type coordinatorImpl struct {
	common.Component
	params           CoordinatorParams
	tp               common.TaskProcessor
	registry         subscription.Registry
	listener         net.Listener
	acceptDone       chan struct{}
	wg               *sync.WaitGroup
	lock             sync.Mutex
	active           *controlSession
	publishers       map[string]dataplane.ChannelPublisher
	operationContext context.Context
	contextCancel    context.CancelFunc
}

// GetCoordinator define new Coordinator
func GetCoordinator(ctxt context.Context, params CoordinatorParams) (Coordinator, error) {
	logTags := log.Fields{
		"module": "control", "component": "coordinator", "instance": params.ListenOn,
	}
	if len(params.Catalog) == 0 {
		return nil, fmt.Errorf("%w: empty catalog", common.ErrProtocol)
	}
	if params.Policy != PolicyPreempt && params.Policy != PolicyReject {
		return nil, fmt.Errorf("unknown connection policy '%s'", params.Policy)
	}
	if params.Source == nil {
		return nil, fmt.Errorf("no sample source")
	}
	if params.DataMetrics == nil {
		params.DataMetrics = dataplane.NewMetrics(nil, "server")
	}
	if params.ControlMetrics == nil {
		params.ControlMetrics = NewMetrics(nil)
	}
	tp, registry, err := defineRegistry(
		"coordinator", params.BasePort, params.MaxSubscriptions,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscription registry")
		return nil, err
	}
	optCtxt, cancel := context.WithCancel(ctxt)
	return &coordinatorImpl{
		Component:        common.Component{LogTags: logTags},
		params:           params,
		tp:               tp,
		registry:         registry,
		acceptDone:       make(chan struct{}),
		publishers:       make(map[string]dataplane.ChannelPublisher),
		operationContext: optCtxt,
		contextCancel:    cancel,
	}, nil
}

// defineRegistry define a registry over its own task processor. The task processor
// loop is independent of the caller's context so teardown can still use it during
// shutdown; the owner must stop it.
func defineRegistry(
	instance string, basePort, maxSubscriptions int,
) (common.TaskProcessor, subscription.Registry, error) {
	tp, err := common.GetNewTaskProcessorInstance(context.Background(), instance, maxSubscriptions*4)
	if err != nil {
		return nil, nil, err
	}
	registry, err := subscription.DefineRegistry(tp, instance, basePort, maxSubscriptions)
	if err != nil {
		return nil, nil, err
	}
	return tp, registry, nil
}

// Catalog the variables offered to viewers
func (c *coordinatorImpl) Catalog() common.Catalog {
	return c.params.Catalog
}

// Addr the bound control address
func (c *coordinatorImpl) Addr() net.Addr {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Start bind the control socket and begin accepting connections
func (c *coordinatorImpl) Start(wg *sync.WaitGroup) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.listener != nil {
		return fmt.Errorf("already started")
	}
	listener, err := net.Listen(
		"tcp", net.JoinHostPort(c.params.ListenOn, strconv.Itoa(c.params.Port)),
	)
	if err != nil {
		log.WithError(err).WithFields(c.LogTags).Error("Unable to bind control socket")
		return fmt.Errorf("%w: %s", common.ErrConnection, err.Error())
	}
	if err := c.tp.StartEventLoop(wg); err != nil {
		_ = listener.Close()
		return err
	}
	c.listener = listener
	c.wg = wg
	log.WithFields(c.LogTags).Infof("Control channel listening on %s", listener.Addr())
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(c.acceptDone)
		c.acceptLoop(wg)
	}()
	return nil
}

func (c *coordinatorImpl) acceptLoop(wg *sync.WaitGroup) {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			if c.operationContext.Err() != nil || errors.Is(err, net.ErrClosed) {
				log.WithFields(c.LogTags).Info("Accept loop exiting")
				return
			}
			log.WithError(err).WithFields(c.LogTags).Error("Accept failed")
			continue
		}
		c.admit(wg, conn)
	}
}

// admit apply the connection policy to a new control connection and start serving it
func (c *coordinatorImpl) admit(wg *sync.WaitGroup, conn net.Conn) {
	c.lock.Lock()
	previous := c.active
	c.lock.Unlock()

	if previous != nil {
		if c.params.Policy == PolicyReject {
			log.WithFields(c.LogTags).Warnf(
				"Rejecting control connection from %s, session %s is active",
				conn.RemoteAddr(), previous.id,
			)
			c.params.ControlMetrics.RejectedConnections.Inc()
			_ = conn.Close()
			return
		}
		log.WithFields(previous.logTags).Infof(
			"Preempted by control connection from %s", conn.RemoteAddr(),
		)
		_ = previous.conn.Close()
		<-previous.done
	}

	session := &controlSession{
		id:   uuid.New().String(),
		conn: conn,
		done: make(chan struct{}),
	}
	session.logTags = common.CopyLogTags(c.LogTags, log.Fields{
		"session": session.id, "remote": conn.RemoteAddr().String(),
	})
	session.targetHost = c.params.TargetHost
	if session.targetHost == "" {
		host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
		if err != nil {
			log.WithError(err).WithFields(session.logTags).Error("Unable to parse remote address")
			_ = conn.Close()
			return
		}
		session.targetHost = host
	}

	c.lock.Lock()
	c.active = session
	c.lock.Unlock()
	c.params.ControlMetrics.Sessions.Inc()

	log.WithFields(session.logTags).Info("Control session started")
	if _, err := conn.Write([]byte(FormatCatalog(c.params.Catalog) + lineTerminator)); err != nil {
		log.WithError(err).WithFields(session.logTags).Error("Unable to send catalog")
		c.endSession(session)
		return
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.commandLoop(session)
	}()
}

// commandLoop read commands until the connection closes. Bad commands are logged and
// skipped; only connection failure ends the session.
func (c *coordinatorImpl) commandLoop(session *controlSession) {
	defer c.endSession(session)
	scanner := bufio.NewScanner(session.conn)
	for scanner.Scan() {
		line := scanner.Text()
		if err := c.handleCommand(c.operationContext, session, line); err != nil {
			log.WithError(err).WithFields(session.logTags).Warnf("Command '%s' not applied", line)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.WithError(err).WithFields(session.logTags).Warn("Control connection failed")
	}
}

// endSession stop every publisher of the session and forget it
func (c *coordinatorImpl) endSession(session *controlSession) {
	_ = session.conn.Close()
	c.lock.Lock()
	defer c.lock.Unlock()
	c.stopAllPublishers(session)
	if c.active == session {
		c.active = nil
	}
	close(session.done)
	log.WithFields(session.logTags).Info("Control session ended")
}

// HandleCommand apply one control command on behalf of the active session
func (c *coordinatorImpl) HandleCommand(ctxt context.Context, raw string) error {
	c.lock.Lock()
	session := c.active
	c.lock.Unlock()
	if session == nil {
		return fmt.Errorf("%w: no active control session", common.ErrConnection)
	}
	return c.handleCommand(ctxt, session, raw)
}

func (c *coordinatorImpl) handleCommand(
	ctxt context.Context, session *controlSession, raw string,
) error {
	cmd, err := ParseCommand(raw)
	if err != nil {
		c.params.ControlMetrics.Commands.WithLabelValues("malformed", commandResult(err)).Inc()
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.active != session {
		return fmt.Errorf("%w: session %s is no longer active", common.ErrConnection, session.id)
	}
	log.WithFields(session.logTags).Debugf("Processing %s", cmd)
	switch cmd.Kind {
	case CommandSubscribe:
		err = c.subscribe(ctxt, session, cmd.Variable)
	case CommandUnsubscribe:
		err = c.unsubscribe(ctxt, session, cmd.Variable)
	default:
		c.stopAllPublishers(session)
	}
	c.params.ControlMetrics.Commands.WithLabelValues(cmd.Kind.String(), commandResult(err)).Inc()
	return err
}

// subscribe reserve a slot and start the publisher. Caller holds the lock.
func (c *coordinatorImpl) subscribe(
	ctxt context.Context, session *controlSession, variable string,
) error {
	if !c.params.Catalog.Contains(variable) {
		return fmt.Errorf("%w: %s", common.ErrUnknownVariable, variable)
	}
	record, err := c.registry.Reserve(ctxt, variable)
	if err != nil {
		return err
	}
	publisher, err := dataplane.GetChannelPublisher(
		c.operationContext,
		variable,
		session.targetHost,
		record.Port,
		c.params.Cadence,
		c.params.Source,
		c.params.DataMetrics,
	)
	if err != nil {
		c.releaseSlot(session, variable)
		return err
	}
	if _, err := c.registry.Activate(ctxt, variable); err != nil {
		_ = publisher.Stop()
		c.releaseSlot(session, variable)
		return err
	}
	if err := publisher.Start(c.wg); err != nil {
		_ = publisher.Stop()
		c.releaseSlot(session, variable)
		return err
	}
	c.publishers[variable] = publisher
	log.WithFields(session.logTags).Infof(
		"Publishing %s to %s:%d", variable, session.targetHost, record.Port,
	)
	return nil
}

// unsubscribe stop the publisher and wait for it before freeing the slot. Caller holds
// the lock.
func (c *coordinatorImpl) unsubscribe(
	ctxt context.Context, session *controlSession, variable string,
) error {
	publisher, ok := c.publishers[variable]
	if !ok {
		return fmt.Errorf("%w: %s", common.ErrNotSubscribed, variable)
	}
	if _, err := c.registry.MarkStopping(ctxt, variable); err != nil {
		log.WithError(err).WithFields(session.logTags).Errorf("Unable to mark %s stopping", variable)
	}
	if err := publisher.Stop(); err != nil {
		log.WithError(err).WithFields(session.logTags).Errorf("Publisher %s stop failed", variable)
	}
	delete(c.publishers, variable)
	c.releaseSlot(session, variable)
	log.WithFields(session.logTags).Infof("Stopped publishing %s", variable)
	return nil
}

// stopAllPublishers unsubscribe every variable. Caller holds the lock.
func (c *coordinatorImpl) stopAllPublishers(session *controlSession) {
	ctxt, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	for variable := range c.publishers {
		_ = c.unsubscribe(ctxt, session, variable)
	}
}

func (c *coordinatorImpl) releaseSlot(session *controlSession, variable string) {
	ctxt, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if _, err := c.registry.Release(ctxt, variable); err != nil {
		log.WithError(err).WithFields(session.logTags).Errorf("Unable to release %s", variable)
	}
}

// Subscriptions list the subscriptions of the active session
func (c *coordinatorImpl) Subscriptions(ctxt context.Context) ([]subscription.Subscription, error) {
	return c.registry.List(ctxt)
}

// Stop close the control socket, end the active session, stop all publishers
func (c *coordinatorImpl) Stop() error {
	c.contextCancel()
	c.lock.Lock()
	listener := c.listener
	c.lock.Unlock()
	if listener == nil {
		return c.tp.StopEventLoop()
	}
	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		log.WithError(err).WithFields(c.LogTags).Error("Control socket close failed")
	}
	<-c.acceptDone
	c.lock.Lock()
	session := c.active
	c.lock.Unlock()
	if session != nil {
		_ = session.conn.Close()
		<-session.done
	}
	return c.tp.StopEventLoop()
}
