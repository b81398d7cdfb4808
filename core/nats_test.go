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

package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alwitt/telestream/common"
	"github.com/apex/log"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
)

func TestNatsClient(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtxt, utCtxtCancel := context.WithCancel(context.Background())
	defer utCtxtCancel()

	opts := test.DefaultTestOptions
	opts.Port = -1
	server := test.RunServer(&opts)
	defer server.Shutdown()

	closed := make(chan bool, 1)
	config := common.NATSConfig{
		ServerURI:      server.ClientURL(),
		ConnectTimeout: 1,
		Reconnect:      common.NATSReconnectConfig{MaxAttempts: 0, WaitInterval: 1},
	}
	param := ConnectParamsFromConfig(
		config, log.Fields{"module": "core_test"}, func() { closed <- true },
	)
	assert.Equal(time.Second, param.ConnectTimeout)

	uut, err := GetNatsClient(param)
	assert.Nil(err)

	// Case 1: publish and receive
	{
		rxMsg := make(chan []byte, 1)
		sub, err := uut.Subscribe("telestream.ut", func(msg *nats.Msg) {
			rxMsg <- msg.Data
		})
		assert.Nil(err)
		assert.Nil(uut.Conn().Flush())
		assert.Nil(uut.Publish("telestream.ut", []byte("hello")))
		select {
		case msg := <-rxMsg:
			assert.Equal("hello", string(msg))
		case <-time.After(time.Second):
			assert.Fail("message not received")
		}
		assert.Nil(sub.Unsubscribe())
	}

	// Case 2: close triggers the close callback
	{
		ctxt, cancel := context.WithTimeout(utCtxt, time.Second)
		uut.Close(ctxt)
		cancel()
		select {
		case <-closed:
		case <-time.After(time.Second):
			assert.Fail("close callback not triggered")
		}
	}

	// Case 3: unreachable server
	{
		config.ServerURI = "nats://127.0.0.1:1"
		_, err := GetNatsClient(ConnectParamsFromConfig(config, log.Fields{}, nil))
		assert.True(errors.Is(err, common.ErrConnection))
	}
}
