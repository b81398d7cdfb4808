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
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/dataplane"
	"github.com/alwitt/telestream/subscription"
	"github.com/stretchr/testify/assert"
)

func defineTestClient(
	t *testing.T, ctxt context.Context, wg *sync.WaitGroup, basePort int, sink dataplane.DataSink,
	onSubscribe func(string), onDisconnect func(error),
) ControlClient {
	uut, err := GetControlClient(ctxt, wg, ClientParams{
		ListenOn:         "127.0.0.1",
		BasePort:         basePort,
		MaxSubscriptions: 2,
		ConnectTimeout:   time.Second,
		ReceiveTimeout:   time.Millisecond * 20,
		Sink:             sink,
		OnSubscribe:      onSubscribe,
		OnDisconnect:     onDisconnect,
	})
	assert.Nil(t, err)
	return uut
}

func clientPorts(t *testing.T, ctxt context.Context, uut ControlClient) map[string]int {
	subs, err := uut.Subscriptions(ctxt)
	assert.Nil(t, err)
	for _, sub := range subs {
		assert.Equal(t, subscription.StateActive, sub.State)
	}
	return portsOf(subs)
}

// drainUntil read samples until one for the variable arrives
func drainUntil(samples chan common.Sample, variable string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case sample := <-samples:
			if sample.Variable == variable {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

func TestControlClientSession(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	base := findFreePortBlock(t, 2)
	server := defineTestCoordinator(t, utCtxt, &wg, PolicyPreempt, base, nil)
	defer func() {
		assert.Nil(server.Stop())
	}()

	sink := &chanSink{samples: make(chan common.Sample, 100)}
	subscribed := []string{}
	uut := defineTestClient(t, utCtxt, &wg, base, sink, func(variable string) {
		subscribed = append(subscribed, variable)
	}, nil)
	defer func() {
		assert.Nil(uut.Close())
	}()

	// Case 0: not connected yet
	{
		err := uut.ToggleVariable(utCtxt, "Temperatura", true)
		assert.True(errors.Is(err, common.ErrConnection))
		assert.False(uut.Connected())
	}

	// Case 1: connect receives the catalog
	{
		catalog, err := uut.Connect(utCtxt, server.Addr().String())
		assert.Nil(err)
		assert.Equal([]string{"Temperatura", "Pressione", "Umidità"}, catalog.Names())
		assert.Equal(catalog, uut.Catalog())
		assert.True(uut.Connected())
		_, err = uut.Connect(utCtxt, server.Addr().String())
		assert.True(errors.Is(err, common.ErrConnection))
	}

	// Case 2: subscribe Temperatura then Pressione, both sides agree on ports
	{
		assert.Nil(uut.ToggleVariable(utCtxt, "Temperatura", true))
		assert.Nil(uut.ToggleVariable(utCtxt, "Pressione", true))
		expected := map[string]int{"Temperatura": base, "Pressione": base + 1}
		assert.Equal(expected, clientPorts(t, utCtxt, uut))
		waitForSubscriptions(t, utCtxt, server, expected)
		assert.True(drainUntil(sink.samples, "Temperatura", time.Second))
		assert.True(drainUntil(sink.samples, "Pressione", time.Second))
		assert.Equal([]string{"Temperatura", "Pressione"}, subscribed)
	}

	// Case 3: duplicate enable and unknown variable
	{
		assert.Nil(uut.ToggleVariable(utCtxt, "Temperatura", true))
		err := uut.ToggleVariable(utCtxt, "Altitudine", true)
		assert.True(errors.Is(err, common.ErrUnknownVariable))
	}

	// Case 4: capacity is enforced locally
	{
		err := uut.ToggleVariable(utCtxt, "Umidità", true)
		assert.True(errors.Is(err, common.ErrCapacityExceeded))
		assert.Len(clientPorts(t, utCtxt, uut), 2)
		waitForSubscriptions(t, utCtxt, server, map[string]int{"Temperatura": base, "Pressione": base + 1})
	}

	// Case 5: unsubscribe Temperatura, Umidità reuses base+0
	{
		assert.Nil(uut.ToggleVariable(utCtxt, "Temperatura", false))
		// disabling an untracked variable does nothing
		assert.Nil(uut.ToggleVariable(utCtxt, "Temperatura", false))
		assert.Nil(uut.ToggleVariable(utCtxt, "Umidità", true))
		expected := map[string]int{"Umidità": base, "Pressione": base + 1}
		assert.Equal(expected, clientPorts(t, utCtxt, uut))
		waitForSubscriptions(t, utCtxt, server, expected)
		assert.True(drainUntil(sink.samples, "Umidità", time.Second))
	}

	// Case 6: stop all, nothing lingers on the data ports
	{
		assert.Nil(uut.StopAll(utCtxt))
		assert.Empty(clientPorts(t, utCtxt, uut))
		waitForSubscriptions(t, utCtxt, server, map[string]int{})
		for idx := 0; idx < 2; idx++ {
			conn, err := net.ListenUDP(
				"udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: base + idx},
			)
			assert.Nil(err)
			assert.Nil(conn.Close())
		}
	}

	// Case 7: resubscribe after stop all starts from base+0 again
	{
		assert.Nil(uut.ToggleVariable(utCtxt, "Pressione", true))
		assert.Equal(map[string]int{"Pressione": base}, clientPorts(t, utCtxt, uut))
		waitForSubscriptions(t, utCtxt, server, map[string]int{"Pressione": base})
	}
}

// eventSink records subscribe hook calls and delivered samples in one timeline
type eventSink struct {
	lock    sync.Mutex
	events  []string
	samples chan common.Sample
}

func (s *eventSink) record(event string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.events = append(s.events, event)
}

func (s *eventSink) Deliver(sample common.Sample) {
	s.record("sample:" + sample.Variable)
	select {
	case s.samples <- sample:
	default:
	}
}

func (s *eventSink) firstIndex(event string) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	for idx, recorded := range s.events {
		if recorded == event {
			return idx
		}
	}
	return -1
}

func TestControlClientSubscribeHookRunsBeforeDelivery(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	base := findFreePortBlock(t, 2)
	server := defineTestCoordinator(t, utCtxt, &wg, PolicyPreempt, base, nil)
	defer func() {
		assert.Nil(server.Stop())
	}()

	sink := &eventSink{samples: make(chan common.Sample, 100)}
	uut := defineTestClient(t, utCtxt, &wg, base, sink, func(variable string) {
		sink.record("subscribe:" + variable)
	}, nil)
	defer func() {
		assert.Nil(uut.Close())
	}()

	_, err := uut.Connect(utCtxt, server.Addr().String())
	assert.Nil(err)

	// Case 0: hook fires before the first sample of the variable
	{
		assert.Nil(uut.ToggleVariable(utCtxt, "Temperatura", true))
		assert.True(drainUntil(sink.samples, "Temperatura", time.Second))
		hook := sink.firstIndex("subscribe:Temperatura")
		assert.GreaterOrEqual(hook, 0)
		assert.Less(hook, sink.firstIndex("sample:Temperatura"))
	}

	// Case 1: same ordering for a second variable
	{
		assert.Nil(uut.ToggleVariable(utCtxt, "Pressione", true))
		assert.True(drainUntil(sink.samples, "Pressione", time.Second))
		hook := sink.firstIndex("subscribe:Pressione")
		assert.GreaterOrEqual(hook, 0)
		assert.Less(hook, sink.firstIndex("sample:Pressione"))
	}
}

func TestControlClientDisconnect(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	base := findFreePortBlock(t, 2)
	server := defineTestCoordinator(t, utCtxt, &wg, PolicyPreempt, base, nil)

	sink := &chanSink{samples: make(chan common.Sample, 100)}
	disconnected := make(chan error, 1)
	uut := defineTestClient(t, utCtxt, &wg, base, sink, nil, func(err error) {
		disconnected <- err
	})
	defer func() {
		assert.Nil(uut.Close())
		assert.Nil(uut.Close())
	}()

	_, err := uut.Connect(utCtxt, server.Addr().String())
	assert.Nil(err)
	assert.Nil(uut.ToggleVariable(utCtxt, "Temperatura", true))

	// Case 1: server going away tears down every subscriber
	{
		assert.Nil(server.Stop())
		select {
		case err := <-disconnected:
			assert.True(errors.Is(err, common.ErrConnection))
		case <-time.After(time.Second * 2):
			assert.Fail("disconnect not reported")
		}
		assert.False(uut.Connected())
		assert.Empty(clientPorts(t, utCtxt, uut))
		err := uut.ToggleVariable(utCtxt, "Temperatura", true)
		assert.True(errors.Is(err, common.ErrConnection))
	}
}

func TestControlClientConnectFailures(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	sink := &chanSink{samples: make(chan common.Sample, 1)}
	uut := defineTestClient(t, utCtxt, &wg, findFreePortBlock(t, 2), sink, nil, nil)
	defer func() {
		assert.Nil(uut.Close())
	}()

	// A fake server which sends a fixed first line
	fakeServer := func(payload string) (net.Listener, chan struct{}) {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		assert.Nil(err)
		done := make(chan struct{})
		go func() {
			defer close(done)
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_, _ = conn.Write([]byte(payload))
			_ = conn.Close()
		}()
		return listener, done
	}

	// Case 1: nothing listening
	{
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		assert.Nil(err)
		addr := listener.Addr().String()
		assert.Nil(listener.Close())
		_, err = uut.Connect(utCtxt, addr)
		assert.True(errors.Is(err, common.ErrConnection))
	}

	// Case 2: empty catalog
	{
		listener, done := fakeServer("  \n")
		_, err := uut.Connect(utCtxt, listener.Addr().String())
		assert.True(errors.Is(err, common.ErrProtocol))
		<-done
		assert.Nil(listener.Close())
	}

	// Case 3: connection closed before any catalog
	{
		listener, done := fakeServer("")
		_, err := uut.Connect(utCtxt, listener.Addr().String())
		assert.True(errors.Is(err, common.ErrProtocol))
		assert.False(errors.Is(err, common.ErrConnection))
		<-done
		assert.Nil(listener.Close())
		assert.False(uut.Connected())
	}

	// Case 4: server accepts but never sends the catalog
	{
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		assert.Nil(err)
		release := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			<-release
			_ = conn.Close()
		}()
		start := time.Now()
		_, err = uut.Connect(utCtxt, listener.Addr().String())
		assert.True(errors.Is(err, common.ErrProtocol))
		assert.Less(time.Since(start), time.Second*3)
		close(release)
		<-done
		assert.Nil(listener.Close())
		assert.False(uut.Connected())
	}
}
