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
	"io"
	"net"
	"sync"
	"time"

	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/dataplane"
	"github.com/alwitt/telestream/subscription"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// ControlClient viewer side of the control channel. It mirrors the server's slot
// allocation to know which port each subscribed variable arrives on.
type ControlClient interface {
	// Connect open the control connection and wait for the catalog
	Connect(ctxt context.Context, addr string) (common.Catalog, error)
	// ToggleVariable subscribe or unsubscribe one variable. Enabling a tracked variable
	// or disabling an untracked one does nothing.
	ToggleVariable(ctxt context.Context, variable string, enabled bool) error
	// StopAll unsubscribe every variable
	StopAll(ctxt context.Context) error
	// Subscriptions list the tracked subscriptions, ordered by slot
	Subscriptions(ctxt context.Context) ([]subscription.Subscription, error)
	// Catalog the catalog received on connect
	Catalog() common.Catalog
	// Connected whether the control connection is up
	Connected() bool
	// Close drop the control connection and stop every subscriber
	Close() error
}

// ClientParams control client parameters
type ClientParams struct {
	// ListenOn interface data sockets bind to
	ListenOn string
	// BasePort data port of slot 0, must match the server
	BasePort int
	// MaxSubscriptions concurrent subscription limit, must match the server
	MaxSubscriptions int
	// ConnectTimeout bound on connecting and waiting for the catalog
	ConnectTimeout time.Duration
	// ReceiveTimeout subscriber receive deadline
	ReceiveTimeout time.Duration
	// Sink receives decoded samples
	Sink dataplane.DataSink
	// DataMetrics subscriber metrics
	DataMetrics *dataplane.Metrics
	// OnSubscribe called once a variable is activated, before its subscriber starts
	OnSubscribe func(variable string)
	// OnDisconnect called once when the connection is lost without Close
	OnDisconnect func(err error)
}

// controlClientImpl implements ControlClient
type controlClientImpl struct {
	common.Component
	params           ClientParams
	validate         *validator.Validate
	tp               common.TaskProcessor
	registry         subscription.Registry
	wg               *sync.WaitGroup
	lock             sync.Mutex
	conn             net.Conn
	catalog          common.Catalog
	subscribers      map[string]dataplane.ChannelSubscriber
	closing          bool
	operationContext context.Context
	contextCancel    context.CancelFunc
}

// GetControlClient define new ControlClient
func GetControlClient(
	ctxt context.Context, wg *sync.WaitGroup, params ClientParams,
) (ControlClient, error) {
	logTags := log.Fields{"module": "control", "component": "control-client"}
	if params.Sink == nil {
		return nil, fmt.Errorf("no data sink")
	}
	if params.DataMetrics == nil {
		params.DataMetrics = dataplane.NewMetrics(nil, "viewer")
	}
	tp, registry, err := defineRegistry("control-client", params.BasePort, params.MaxSubscriptions)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define subscription registry")
		return nil, err
	}
	if err := tp.StartEventLoop(wg); err != nil {
		return nil, err
	}
	optCtxt, cancel := context.WithCancel(ctxt)
	return &controlClientImpl{
		Component:        common.Component{LogTags: logTags},
		params:           params,
		validate:         validator.New(),
		tp:               tp,
		registry:         registry,
		wg:               wg,
		subscribers:      make(map[string]dataplane.ChannelSubscriber),
		operationContext: optCtxt,
		contextCancel:    cancel,
	}, nil
}

// Connect open the control connection and wait for the catalog
func (c *controlClientImpl) Connect(ctxt context.Context, addr string) (common.Catalog, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closing {
		return nil, fmt.Errorf("%w: client closed", common.ErrConnection)
	}
	if c.conn != nil {
		return nil, fmt.Errorf("%w: already connected", common.ErrConnection)
	}
	logTags := common.CopyLogTags(c.LogTags, log.Fields{"server": addr})

	dialer := net.Dialer{Timeout: c.params.ConnectTimeout}
	conn, err := dialer.DialContext(ctxt, "tcp", addr)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to reach control channel")
		return nil, fmt.Errorf("%w: %s", common.ErrConnection, err.Error())
	}

	// Exactly one catalog line arrives before anything else
	if c.params.ConnectTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.params.ConnectTimeout))
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		_ = conn.Close()
		log.WithError(err).WithFields(logTags).Error("No catalog received")
		// The server closing or staying silent means the catalog is absent
		var netErr net.Error
		if errors.Is(err, io.EOF) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: no catalog received: %s", common.ErrProtocol, err.Error())
		}
		return nil, fmt.Errorf("%w: no catalog received: %s", common.ErrConnection, err.Error())
	}
	catalog, err := ParseCatalog(line, c.validate)
	if err != nil {
		_ = conn.Close()
		log.WithError(err).WithFields(logTags).Error("Malformed catalog")
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	c.conn = conn
	c.catalog = catalog
	log.WithFields(logTags).Infof("Connected, catalog %s", FormatCatalog(catalog))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.watchConnection(conn, reader)
	}()
	return catalog, nil
}

// watchConnection wait for the server to close the control connection. The server never
// sends anything after the catalog, so any further line is ignored.
func (c *controlClientImpl) watchConnection(conn net.Conn, reader *bufio.Reader) {
	var err error
	for {
		if _, err = reader.ReadString('\n'); err != nil {
			break
		}
	}
	c.lock.Lock()
	if c.conn != conn {
		// Already torn down locally
		c.lock.Unlock()
		return
	}
	log.WithError(err).WithFields(c.LogTags).Warn("Control connection lost")
	c.dropConnection()
	closing := c.closing
	c.lock.Unlock()

	if !closing && c.params.OnDisconnect != nil {
		c.params.OnDisconnect(fmt.Errorf("%w: %s", common.ErrConnection, err.Error()))
	}
}

// dropConnection close the connection and stop every subscriber. Caller holds the lock.
func (c *controlClientImpl) dropConnection() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	for variable := range c.subscribers {
		c.stopSubscriber(variable)
	}
}

// send write one command line. A write failure drops the connection.
func (c *controlClientImpl) send(cmd Command) error {
	if c.conn == nil {
		return fmt.Errorf("%w: not connected", common.ErrConnection)
	}
	if c.params.ConnectTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.params.ConnectTimeout))
	}
	if _, err := c.conn.Write([]byte(FormatCommand(cmd) + lineTerminator)); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to send %s", cmd)
		c.dropConnection()
		return fmt.Errorf("%w: %s", common.ErrConnection, err.Error())
	}
	return nil
}

// ToggleVariable subscribe or unsubscribe one variable
func (c *controlClientImpl) ToggleVariable(
	ctxt context.Context, variable string, enabled bool,
) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.conn == nil {
		return fmt.Errorf("%w: not connected", common.ErrConnection)
	}
	if !c.catalog.Contains(variable) {
		return fmt.Errorf("%w: %s", common.ErrUnknownVariable, variable)
	}
	_, tracked := c.subscribers[variable]
	if enabled {
		if tracked {
			return nil
		}
		return c.subscribe(ctxt, variable)
	}
	if !tracked {
		return nil
	}
	err := c.send(Command{Kind: CommandUnsubscribe, Variable: variable})
	if c.conn != nil {
		c.stopSubscriber(variable)
	}
	return err
}

// subscribe reserve the slot, bind the subscriber, then tell the server. Caller holds
// the lock.
func (c *controlClientImpl) subscribe(ctxt context.Context, variable string) error {
	// A full registry refuses here, before anything is sent
	record, err := c.registry.Reserve(ctxt, variable)
	if err != nil {
		return err
	}
	subscriber, err := dataplane.GetChannelSubscriber(
		c.operationContext,
		variable,
		c.params.ListenOn,
		record.Port,
		c.params.ReceiveTimeout,
		c.params.Sink,
		c.isActive,
		c.params.DataMetrics,
	)
	if err != nil {
		c.releaseSlot(variable)
		return err
	}
	if err := c.send(Command{Kind: CommandSubscribe, Variable: variable}); err != nil {
		_ = subscriber.Stop()
		c.releaseSlot(variable)
		return err
	}
	if _, err := c.registry.Activate(ctxt, variable); err != nil {
		_ = subscriber.Stop()
		c.releaseSlot(variable)
		return err
	}
	if c.params.OnSubscribe != nil {
		c.params.OnSubscribe(variable)
	}
	if err := subscriber.Start(c.wg); err != nil {
		_ = subscriber.Stop()
		c.releaseSlot(variable)
		return err
	}
	c.subscribers[variable] = subscriber
	log.WithFields(c.LogTags).Infof("Listening for %s on port %d", variable, record.Port)
	return nil
}

// isActive the subscriber keep-running check
func (c *controlClientImpl) isActive(variable string) bool {
	return c.registry.IsActive(c.operationContext, variable)
}

// stopSubscriber flip the registry entry out of ACTIVE, wait for the subscriber to exit,
// then free the slot. Caller holds the lock.
func (c *controlClientImpl) stopSubscriber(variable string) {
	subscriber, ok := c.subscribers[variable]
	if !ok {
		return
	}
	ctxt, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if _, err := c.registry.MarkStopping(ctxt, variable); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to mark %s stopping", variable)
	}
	if err := subscriber.Stop(); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Subscriber %s stop failed", variable)
	}
	delete(c.subscribers, variable)
	c.releaseSlot(variable)
	log.WithFields(c.LogTags).Infof("Stopped listening for %s", variable)
}

func (c *controlClientImpl) releaseSlot(variable string) {
	ctxt, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if _, err := c.registry.Release(ctxt, variable); err != nil {
		log.WithError(err).WithFields(c.LogTags).Errorf("Unable to release %s", variable)
	}
}

// StopAll unsubscribe every variable
func (c *controlClientImpl) StopAll(ctxt context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	err := c.send(Command{Kind: CommandStopAll})
	for variable := range c.subscribers {
		c.stopSubscriber(variable)
	}
	return err
}

// Subscriptions list the tracked subscriptions, ordered by slot
func (c *controlClientImpl) Subscriptions(
	ctxt context.Context,
) ([]subscription.Subscription, error) {
	return c.registry.List(ctxt)
}

// Catalog the catalog received on connect
func (c *controlClientImpl) Catalog() common.Catalog {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.catalog
}

// Connected whether the control connection is up
func (c *controlClientImpl) Connected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.conn != nil
}

// Close drop the control connection and stop every subscriber
func (c *controlClientImpl) Close() error {
	c.lock.Lock()
	if c.closing {
		c.lock.Unlock()
		return nil
	}
	c.closing = true
	c.dropConnection()
	c.lock.Unlock()
	c.contextCancel()
	if err := c.tp.StopEventLoop(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
