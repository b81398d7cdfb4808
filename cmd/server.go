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
	"sync"

	"github.com/alwitt/telestream/apis"
	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/control"
	"github.com/alwitt/telestream/core"
	"github.com/alwitt/telestream/dataplane"
	"github.com/alwitt/telestream/source"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
)

// RunServer run the telemetry server until the runtime context is cancelled.
//
// natsClient is only needed when the sample source is "nats".
func RunServer(
	runtimeContext context.Context,
	wg *sync.WaitGroup,
	config *common.ServerConfig,
	instance string,
	natsClient *core.NatsClient,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "server",
		"instance":  instance,
	}

	validate := validator.New()
	catalog, err := common.NewCatalog(config.Catalog, validate)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid variable catalog")
		return err
	}

	sampleSource, closeSource, err := source.DefineSampleSource(config.Source, catalog, natsClient)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Unable to define %s sample source", config.Source.Kind,
		)
		return err
	}
	defer closeSource()

	registerer, metricsHandler := defineMetrics(config.MetricsEnabled)

	coordinator, err := control.GetCoordinator(runtimeContext, control.CoordinatorParams{
		Catalog:          catalog,
		ListenOn:         config.Control.ListenOn,
		Port:             int(config.Control.Port),
		Policy:           config.Control.ConnectionPolicy,
		BasePort:         int(config.Data.BasePort),
		MaxSubscriptions: config.Data.MaxSubscriptions,
		Cadence:          config.PublishInterval(),
		TargetHost:       config.Data.TargetHost,
		Source:           sampleSource,
		DataMetrics:      dataplane.NewMetrics(registerer, "server"),
		ControlMetrics:   control.NewMetrics(registerer),
	})
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define control coordinator")
		return err
	}
	if err := coordinator.Start(wg); err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to start control coordinator")
		return err
	}
	defer func() {
		if err := coordinator.Stop(); err != nil {
			log.WithError(err).WithFields(logTags).Error("Control coordinator stop failure")
		}
	}()

	httpHandler, err := apis.GetAPIRestServerHandler(coordinator, &config.APIServer)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Unable to define HTTP handler")
		return err
	}
	httpSrv := startHTTPServer(
		config.APIServer, apis.BuildServerRouter(httpHandler, metricsHandler), logTags,
	)

	// ============================================================================

	<-runtimeContext.Done()

	stopHTTPServer(httpSrv, logTags)
	return nil
}
