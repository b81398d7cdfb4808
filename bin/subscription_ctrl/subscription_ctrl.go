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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"time"

	"github.com/alwitt/telestream/common"
	"github.com/alwitt/telestream/control"
	"github.com/apex/log"
	apexJSON "github.com/apex/log/handlers/json"
	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v2"
)

type cmdArgs struct {
	ServerHost       string `json:"server_host" validate:"required,hostname|ip"`
	ServerPort       int    `json:"server_port" validate:"required,gt=0,lt=65536"`
	ListenOn         string `json:"listen_on" validate:"required,ip"`
	BasePort         int    `json:"base_port" validate:"required,gt=0,lt=65536"`
	MaxSubscriptions int    `json:"max_subscriptions" validate:"required,gte=1,lte=64"`
	Duration         time.Duration
	JSONLog          bool
	LogLevel         string `validate:"required,oneof=debug info warn error"`
}

var args cmdArgs

// printSink log every sample as it arrives
type printSink struct{}

func (printSink) Deliver(sample common.Sample) {
	log.WithField("variable", sample.Variable).Infof("%g", sample.Value)
}

func main() {
	app := &cli.App{
		Usage:     "subscribe to telemetry variables and log the received samples",
		ArgsUsage: "[variable ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "server-host",
				Usage:       "Telemetry server host",
				Aliases:     []string{"s"},
				EnvVars:     []string{"SERVER_HOST"},
				Value:       "127.0.0.1",
				DefaultText: "127.0.0.1",
				Destination: &args.ServerHost,
				Required:    false,
			},
			&cli.IntFlag{
				Name:        "server-port",
				Usage:       "Telemetry server control port",
				Aliases:     []string{"p"},
				EnvVars:     []string{"SERVER_PORT"},
				Value:       6000,
				DefaultText: "6000",
				Destination: &args.ServerPort,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "listen-on",
				Usage:       "Interface the data channels bind on",
				EnvVars:     []string{"LISTEN_ON"},
				Value:       "127.0.0.1",
				DefaultText: "127.0.0.1",
				Destination: &args.ListenOn,
				Required:    false,
			},
			&cli.IntFlag{
				Name:        "base-port",
				Usage:       "Data port of subscription slot 0, must match the server",
				EnvVars:     []string{"BASE_PORT"},
				Value:       5005,
				DefaultText: "5005",
				Destination: &args.BasePort,
				Required:    false,
			},
			&cli.IntFlag{
				Name:        "max-subscriptions",
				Usage:       "Concurrent subscription limit, must match the server",
				EnvVars:     []string{"MAX_SUBSCRIPTIONS"},
				Value:       4,
				DefaultText: "4",
				Destination: &args.MaxSubscriptions,
				Required:    false,
			},
			&cli.DurationFlag{
				Name:        "duration",
				Usage:       "How long to listen. 0 runs until interrupted.",
				Aliases:     []string{"d"},
				EnvVars:     []string{"DURATION"},
				Value:       0,
				DefaultText: "0s",
				Destination: &args.Duration,
				Required:    false,
			},
			// LOGGING
			&cli.BoolFlag{
				Name:        "json-log",
				Usage:       "Whether to log in JSON format",
				Aliases:     []string{"j"},
				EnvVars:     []string{"LOG_AS_JSON"},
				Value:       false,
				DefaultText: "false",
				Destination: &args.JSONLog,
				Required:    false,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "Logging level: [debug info warn error]",
				Aliases:     []string{"l"},
				EnvVars:     []string{"LOG_LEVEL"},
				Value:       "info",
				DefaultText: "info",
				Destination: &args.LogLevel,
				Required:    false,
			},
		},
		Action: startSubscriptionCtrl,
	}

	err := app.Run(os.Args)
	if err != nil {
		log.WithError(err).Fatal("Program shutdown")
	}
}

func startSubscriptionCtrl(c *cli.Context) error {
	wg := sync.WaitGroup{}
	defer wg.Wait()
	opContext, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Double check the input
	{
		validate := validator.New()
		if err := validate.Struct(&args); err != nil {
			return err
		}
	}

	// Prepare the logging
	if args.JSONLog {
		log.SetHandler(apexJSON.New(os.Stderr))
	}
	switch args.LogLevel {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.ErrorLevel)
	}

	{
		tmp, _ := json.Marshal(&args)
		log.Debugf("Starting params %s", tmp)
	}

	// ------------------------------------------------------------------------
	// Create the control client

	client, err := control.GetControlClient(opContext, &wg, control.ClientParams{
		ListenOn:         args.ListenOn,
		BasePort:         args.BasePort,
		MaxSubscriptions: args.MaxSubscriptions,
		ConnectTimeout:   time.Second * 5,
		ReceiveTimeout:   time.Millisecond * 100,
		Sink:             printSink{},
		OnDisconnect: func(err error) {
			log.WithError(err).Error("Control connection lost")
			cancel()
		},
	})
	if err != nil {
		log.WithError(err).Errorf("Failed to define control client")
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	serverAddr := net.JoinHostPort(args.ServerHost, strconv.Itoa(args.ServerPort))
	catalog, err := client.Connect(opContext, serverAddr)
	if err != nil {
		log.WithError(err).Errorf("Failed to connect to %s", serverAddr)
		return err
	}
	fmt.Println(control.FormatCatalog(catalog))

	// With no variables given, only print the catalog
	if c.NArg() == 0 {
		return nil
	}
	for _, variable := range c.Args().Slice() {
		if err := client.ToggleVariable(opContext, variable, true); err != nil {
			log.WithError(err).Errorf("Failed to subscribe to %s", variable)
			return err
		}
	}

	// ------------------------------------------------------------------------

	cc := make(chan os.Signal, 1)
	// We'll accept graceful shutdowns when quit via SIGINT (Ctrl+C)
	// SIGKILL, SIGQUIT or SIGTERM (Ctrl+/) will not be caught.
	signal.Notify(cc, os.Interrupt)

	var timeout <-chan time.Time
	if args.Duration > 0 {
		timeout = time.After(args.Duration)
	}
	select {
	case <-cc:
	case <-timeout:
	case <-opContext.Done():
		return nil
	}

	return client.StopAll(context.Background())
}
