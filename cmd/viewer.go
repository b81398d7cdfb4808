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
	"sync"

	"github.com/alwitt/telestream/apis"
	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/control"
	"github.com/alwitt/telestream/core"
	"github.com/alwitt/telestream/dataplane"
	"github.com/alwitt/telestream/sink"
	"github.com/apex/log"
)

// RunViewer run the telemetry viewer until the runtime context is cancelled.
//
// natsClient is only needed when the relay is enabled.
func RunViewer(
	runtimeContext context.Context,
	wg *sync.WaitGroup,
	config *common.ViewerConfig,
	instance string,
	natsClient *core.NatsClient,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "viewer",
		"instance":  instance,
	}

	registerer, metricsHandler := defineMetrics(config.MetricsEnabled)
	sinkMetrics := sink.NewMetrics(registerer)

	// -------------------------------------------------------------------
	// Sample consumers

	series, err := sink.NewSeriesStore(config.SeriesCapacity)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define series store")
		return err
	}
	alerts := sink.NewAlertSlot(func(alert sink.Alert) {
		log.WithFields(logTags).WithFields(log.Fields{
			"alert":    alert.Instance,
			"kind":     alert.Kind,
			"variable": alert.Variable,
		}).Warn(alert.Message)
	}, sinkMetrics)
	thresholds := sink.NewThresholdMonitor(alerts)
	refresher, err := sink.GetRefresher(
		runtimeContext, wg, config.RefreshInterval(), func(updated []string) {
			for _, variable := range updated {
				points := series.Series(variable)
				if len(points) == 0 {
					continue
				}
				latest := points[len(points)-1]
				log.WithFields(logTags).WithFields(log.Fields{
					"variable": variable,
					"sequence": latest.Sequence,
					"points":   len(points),
				}).Debugf("%.2f", latest.Value)
			}
		},
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define refresher")
		return err
	}

	consumers := []sink.SampleConsumer{series, thresholds, refresher}
	if config.Relay.Enabled {
		if natsClient == nil {
			err := fmt.Errorf("sample relay requires a NATS client")
			log.WithError(err).WithFields(logTags).Error("Unable to define sample relay")
			return err
		}
		consumers = append(consumers, sink.NewRelay(*natsClient, config.Relay.SubjectPrefix, sinkMetrics))
	}

	queue, err := sink.GetDeliveryQueue(runtimeContext, config.QueueDepth, sinkMetrics, consumers...)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define delivery queue")
		return err
	}
	if err := queue.Start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start delivery queue")
		return err
	}
	defer func() {
		if err := queue.Stop(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Delivery queue stop failure")
		}
	}()
	if err := refresher.Start(); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start refresher")
		return err
	}
	defer func() {
		if err := refresher.Stop(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Refresher stop failure")
		}
	}()

	// -------------------------------------------------------------------
	// Control channel

	client, err := control.GetControlClient(runtimeContext, wg, control.ClientParams{
		ListenOn:         config.Data.ListenOn,
		BasePort:         int(config.Data.BasePort),
		MaxSubscriptions: config.Data.MaxSubscriptions,
		ConnectTimeout:   config.ConnectTimeout(),
		ReceiveTimeout:   config.ReceiveTimeout(),
		Sink:             queue,
		DataMetrics:      dataplane.NewMetrics(registerer, "viewer"),
		// Every subscription starts a fresh series
		OnSubscribe: func(variable string) {
			if err := queue.Reset(runtimeContext, variable); err != nil {
				log.WithError(err).WithFields(logTags).Errorf("Unable to reset series of %s", variable)
			}
		},
		OnDisconnect: func(err error) {
			alerts.Raise(sink.AlertFailure, "", fmt.Sprintf("control connection lost: %s", err.Error()))
		},
	})
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define control client")
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Control client close failure")
		}
	}()

	serverAddr := controlAddress(config.Control)
	catalog, err := client.Connect(runtimeContext, serverAddr)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to connect to server %s", serverAddr)
		return err
	}
	log.WithFields(logTags).Infof(
		"Connected to %s, catalog %s", serverAddr, control.FormatCatalog(catalog),
	)

	// -------------------------------------------------------------------
	// Viewer API

	httpHandler, err := apis.GetAPIRestViewerHandler(
		client, series, thresholds, alerts, &config.APIServer,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}
	httpSrv := startHTTPServer(
		config.APIServer, apis.BuildViewerRouter(httpHandler, metricsHandler), logTags,
	)

	// ============================================================================

	<-runtimeContext.Done()

	stopHTTPServer(httpSrv, logTags)
	return nil
}
