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

package apis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/alwitt/goutils"
	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/sink"
	"github.com/alwitt/telestream/subscription"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
)

const testRequestIDHeader = "Telestream-Request-ID"

type fakeSessionView struct {
	catalog common.Catalog
	subs    []subscription.Subscription
	addr    net.Addr
}

func (f *fakeSessionView) Catalog() common.Catalog {
	return f.catalog
}

func (f *fakeSessionView) Subscriptions(ctxt context.Context) ([]subscription.Subscription, error) {
	return f.subs, nil
}

func (f *fakeSessionView) Addr() net.Addr {
	return f.addr
}

// fakeControlClient records toggles and mirrors the slot allocation with a simple list
type fakeControlClient struct {
	lock      sync.Mutex
	catalog   common.Catalog
	connected bool
	active    []string
	maxSubs   int
	toggles   []string
}

func (f *fakeControlClient) Connect(ctxt context.Context, addr string) (common.Catalog, error) {
	return f.catalog, nil
}

func (f *fakeControlClient) ToggleVariable(ctxt context.Context, variable string, enabled bool) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	if !f.connected {
		return common.ErrConnection
	}
	f.toggles = append(f.toggles, fmt.Sprintf("%s=%v", variable, enabled))
	for idx, name := range f.active {
		if name == variable {
			if !enabled {
				f.active = append(f.active[:idx], f.active[idx+1:]...)
			}
			return nil
		}
	}
	if !enabled {
		return nil
	}
	if len(f.active) >= f.maxSubs {
		return fmt.Errorf("%w: %s", common.ErrCapacityExceeded, variable)
	}
	f.active = append(f.active, variable)
	return nil
}

func (f *fakeControlClient) StopAll(ctxt context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.active = nil
	return nil
}

func (f *fakeControlClient) Subscriptions(ctxt context.Context) ([]subscription.Subscription, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	result := []subscription.Subscription{}
	for idx, name := range f.active {
		result = append(result, subscription.Subscription{
			Variable: name, Slot: idx, Port: 5005 + idx, State: subscription.StateActive,
		})
	}
	return result, nil
}

func (f *fakeControlClient) Catalog() common.Catalog {
	return f.catalog
}

func (f *fakeControlClient) Connected() bool {
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.connected
}

func (f *fakeControlClient) Close() error {
	return nil
}

func doRequest(
	t *testing.T, handler http.Handler, method, path string, body interface{}, reqID string,
) *httptest.ResponseRecorder {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		assert.Nil(t, err)
	}
	req, err := http.NewRequest(method, path, bytes.NewReader(payload))
	assert.Nil(t, err)
	if reqID != "" {
		req.Header.Add(testRequestIDHeader, reqID)
	}
	respRecorder := httptest.NewRecorder()
	handler.ServeHTTP(respRecorder, req)
	return respRecorder
}

func TestRestAPIHandlerFromConfig(t *testing.T) {
	assert := assert.New(t)

	// Case 0: request ID header and headers hidden from the request log
	{
		uut := defineRestAPIHandler(log.Fields{"module": "apis"}, &common.HTTPServerConfig{
			RequestIDHeader: testRequestIDHeader,
			DoNotLogHeaders: []string{"authorization", "X-Api-Key"},
		})
		assert.NotNil(uut.CallRequestIDHeaderField)
		assert.Equal(testRequestIDHeader, *uut.CallRequestIDHeaderField)
		assert.Equal(map[string]bool{"Authorization": true, "X-Api-Key": true}, uut.DoNotLogHeaders)
		assert.Len(uut.LogTagModifiers, 1)
	}

	// Case 1: no request ID header, an ID is still generated per request
	{
		uut := defineRestAPIHandler(log.Fields{"module": "apis"}, &common.HTTPServerConfig{})
		assert.Nil(uut.CallRequestIDHeaderField)
		router := BuildServerRouter(APIRestServerHandler{
			RestAPIHandler: uut, core: &fakeSessionView{},
		}, nil)
		resp := doRequest(t, router, "GET", "/alive", nil, "")
		assert.Equal(http.StatusOK, resp.Code)
		var msg goutils.RestAPIBaseResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.True(msg.Success)
		assert.NotEmpty(msg.RequestID)
		assert.Empty(resp.Header().Get(testRequestIDHeader))
	}
}

func TestServerAPI(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	core := &fakeSessionView{
		catalog: common.Catalog{{Name: "Temperatura"}, {Name: "Pressione"}},
		subs: []subscription.Subscription{
			{Variable: "Pressione", Slot: 0, Port: 5005, State: subscription.StateActive},
		},
	}
	handler, err := GetAPIRestServerHandler(
		core, &common.HTTPServerConfig{RequestIDHeader: testRequestIDHeader},
	)
	assert.Nil(err)
	registry := prometheus.NewRegistry()
	scrapeCounter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ut_scrape_total", Help: "scrape check"})
	registry.MustRegister(scrapeCounter)
	scrapeCounter.Inc()
	router := BuildServerRouter(handler, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// Case 0: not ready until the control channel listens
	{
		resp := doRequest(t, router, "GET", "/ready", nil, "")
		assert.Equal(http.StatusServiceUnavailable, resp.Code)
		core.addr = &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6000}
		resp = doRequest(t, router, "GET", "/ready", nil, "")
		assert.Equal(http.StatusOK, resp.Code)
		resp = doRequest(t, router, "GET", "/alive", nil, "")
		assert.Equal(http.StatusOK, resp.Code)
	}

	// Case 1: catalog, with the caller's request ID echoed
	{
		reqID := uuid.NewString()
		resp := doRequest(t, router, "GET", "/v1/catalog", nil, reqID)
		assert.Equal(http.StatusOK, resp.Code)
		assert.Equal(reqID, resp.Header().Get(testRequestIDHeader))
		assert.Equal("application/json", resp.Header().Get("content-type"))
		var msg APIRestRespCatalog
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.True(msg.Success)
		assert.Equal(reqID, msg.RequestID)
		assert.Equal([]string{"Temperatura", "Pressione"}, msg.Catalog)
	}

	// Case 2: subscriptions, request ID generated when not given
	{
		resp := doRequest(t, router, "GET", "/v1/subscriptions", nil, "")
		assert.Equal(http.StatusOK, resp.Code)
		var msg APIRestRespSubscriptions
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.NotEmpty(msg.RequestID)
		assert.Len(msg.Subscriptions, 1)
		assert.Equal("Pressione", msg.Subscriptions[0].Variable)
		assert.Equal(5005, msg.Subscriptions[0].Port)
	}

	// Case 3: metrics and wrong method
	{
		resp := doRequest(t, router, "GET", "/metrics", nil, "")
		assert.Equal(http.StatusOK, resp.Code)
		assert.Contains(resp.Body.String(), "ut_scrape_total 1")
		resp = doRequest(t, router, "POST", "/v1/catalog", nil, "")
		assert.Equal(http.StatusMethodNotAllowed, resp.Code)
	}
}

func TestViewerAPI(t *testing.T) {
	assert := assert.New(t)

	client := &fakeControlClient{
		catalog:   common.Catalog{{Name: "Temperatura"}, {Name: "Pressione"}, {Name: "Umidità"}},
		connected: true,
		maxSubs:   2,
	}
	series, err := sink.NewSeriesStore(10)
	assert.Nil(err)
	alerts := sink.NewAlertSlot(nil, nil)
	thresholds := sink.NewThresholdMonitor(alerts)
	handler, err := GetAPIRestViewerHandler(
		client, series, thresholds, alerts,
		&common.HTTPServerConfig{RequestIDHeader: testRequestIDHeader},
	)
	assert.Nil(err)
	router := BuildViewerRouter(handler, nil)

	variablePath := func(variable string, suffix string) string {
		return fmt.Sprintf("/v1/variable/%s%s", url.PathEscape(variable), suffix)
	}
	enabled := true
	disabled := false

	// Case 0: ready
	{
		resp := doRequest(t, router, "GET", "/ready", nil, "")
		assert.Equal(http.StatusOK, resp.Code)
		resp = doRequest(t, router, "GET", "/v1/catalog", nil, "")
		var msg APIRestRespCatalog
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.Equal([]string{"Temperatura", "Pressione", "Umidità"}, msg.Catalog)
	}

	// Case 1: enable two variables
	{
		resp := doRequest(t, router, "PUT", variablePath("Temperatura", ""), APIRestReqToggle{Enabled: &enabled}, "")
		assert.Equal(http.StatusOK, resp.Code)
		resp = doRequest(t, router, "PUT", variablePath("Umidità", ""), APIRestReqToggle{Enabled: &enabled}, "")
		assert.Equal(http.StatusOK, resp.Code)
		resp = doRequest(t, router, "GET", "/v1/subscriptions", nil, "")
		var msg APIRestRespSubscriptions
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.Len(msg.Subscriptions, 2)
		assert.Equal("Umidità", msg.Subscriptions[1].Variable)
	}

	// Case 2: over capacity surfaces as a conflict and a failure alert
	{
		resp := doRequest(t, router, "PUT", variablePath("Pressione", ""), APIRestReqToggle{Enabled: &enabled}, "")
		assert.Equal(http.StatusConflict, resp.Code)
		var msg goutils.RestAPIBaseResponse
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.False(msg.Success)
		assert.Equal(http.StatusConflict, msg.Error.Code)

		resp = doRequest(t, router, "GET", "/v1/alert", nil, "")
		var alertMsg APIRestRespAlert
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &alertMsg))
		assert.NotNil(alertMsg.Alert)
		assert.Equal(sink.AlertFailure, alertMsg.Alert.Kind)

		resp = doRequest(t, router, "DELETE", "/v1/alert", nil, "")
		assert.Equal(http.StatusOK, resp.Code)
		resp = doRequest(t, router, "DELETE", "/v1/alert", nil, "")
		assert.Equal(http.StatusNotFound, resp.Code)
	}

	// Case 3: bad requests
	{
		resp := doRequest(t, router, "PUT", variablePath("Altitudine", ""), APIRestReqToggle{Enabled: &enabled}, "")
		assert.Equal(http.StatusNotFound, resp.Code)
		resp = doRequest(t, router, "PUT", variablePath("Pressione", ""), map[string]string{}, "")
		assert.Equal(http.StatusBadRequest, resp.Code)
		_, live := alerts.Current()
		assert.False(live)
	}

	// Case 4: disable, then stop all
	{
		resp := doRequest(t, router, "PUT", variablePath("Temperatura", ""), APIRestReqToggle{Enabled: &disabled}, "")
		assert.Equal(http.StatusOK, resp.Code)
		assert.Equal([]string{"Temperatura=true", "Umidità=true", "Pressione=true", "Temperatura=false"}, client.toggles)
		resp = doRequest(t, router, "POST", "/v1/stop", nil, "")
		assert.Equal(http.StatusOK, resp.Code)
		subs, _ := client.Subscriptions(context.Background())
		assert.Empty(subs)
	}

	// Case 5: series
	{
		series.Consume(common.Sample{Variable: "Umidità", Value: 40.5, Sequence: 1})
		series.Consume(common.Sample{Variable: "Umidità", Value: 41, Sequence: 2})
		resp := doRequest(t, router, "GET", variablePath("Umidità", "/series"), nil, "")
		assert.Equal(http.StatusOK, resp.Code)
		var msg APIRestRespSeries
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.Equal("Umidità", msg.Variable)
		assert.Len(msg.Points, 2)
		assert.Equal(41.0, msg.Points[1].Value)
	}

	// Case 6: thresholds, partial update keeps the other fields
	{
		resp := doRequest(t, router, "GET", variablePath("Temperatura", "/threshold"), nil, "")
		var msg APIRestRespThreshold
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &msg))
		assert.Equal(sink.DefaultThreshold(), msg.Threshold)

		resp = doRequest(t, router, "PUT", variablePath("Temperatura", "/threshold"), map[string]interface{}{
			"max": 10.0, "alert_max_enabled": true,
		}, "")
		assert.Equal(http.StatusOK, resp.Code)
		expected := sink.Threshold{Min: -1000, Max: 10, AlertMaxEnabled: true}
		assert.Equal(expected, thresholds.Get("Temperatura"))

		thresholds.Consume(common.Sample{Variable: "Temperatura", Value: 12.5})
		resp = doRequest(t, router, "GET", "/v1/alert", nil, "")
		var alertMsg APIRestRespAlert
		assert.Nil(json.Unmarshal(resp.Body.Bytes(), &alertMsg))
		assert.Equal("value above threshold: 12.50 > 10.00", alertMsg.Alert.Message)
	}

	// Case 7: connection down
	{
		client.lock.Lock()
		client.connected = false
		client.lock.Unlock()
		resp := doRequest(t, router, "GET", "/ready", nil, "")
		assert.Equal(http.StatusServiceUnavailable, resp.Code)
		resp = doRequest(t, router, "PUT", variablePath("Pressione", ""), APIRestReqToggle{Enabled: &enabled}, "")
		assert.Equal(http.StatusServiceUnavailable, resp.Code)
	}
}
