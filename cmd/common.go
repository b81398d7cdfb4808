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

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alwitt/telestream/common"
	"github.com/apex/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// shutdownTimeout bounds the HTTP server graceful shutdown
const shutdownTimeout = time.Second * 10

// defineMetrics prepare the prometheus registry of a component. When metrics are
// disabled the collectors still work but nothing is exposed.
func defineMetrics(enabled bool) (prometheus.Registerer, http.Handler) {
	registry := prometheus.NewRegistry()
	if !enabled {
		return registry, nil
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// startHTTPServer serve the router over HTTP/2 cleartext
func startHTTPServer(
	config common.HTTPServerConfig, router *mux.Router, logTags log.Fields,
) *http.Server {
	serverListen := net.JoinHostPort(config.ListenOn, strconv.Itoa(int(config.Port)))
	httpSrv := &http.Server{
		Addr:         serverListen,
		WriteTimeout: time.Second * time.Duration(config.WriteTimeout),
		ReadTimeout:  time.Second * time.Duration(config.ReadTimeout),
		IdleTimeout:  time.Second * time.Duration(config.IdleTimeout),
		Handler:      h2c.NewHandler(router, &http2.Server{}),
	}

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).WithFields(logTags).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)
	return httpSrv
}

// stopHTTPServer gracefully stop the HTTP server
func stopHTTPServer(httpSrv *http.Server, logTags log.Fields) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.WithError(err).WithFields(logTags).Error("Failure during HTTP shutdown")
	}
}

// controlAddress the address of the server control channel
func controlAddress(config common.ControlConnectConfig) string {
	return net.JoinHostPort(config.ServerHost, fmt.Sprintf("%d", config.ServerPort))
}
