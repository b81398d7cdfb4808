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

package common

import (
	"time"

	"github.com/spf13/viper"
)

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig NATS client reconnect setting
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig NATS client config
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required,dive"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero or negative value
	// means there will be no timeout.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// ===============================================================================
// Data Plane Config

// DataPlaneConfig parameters both sides must agree on for the port formula
type DataPlaneConfig struct {
	// BasePort is the data port of subscription slot 0
	BasePort uint16 `mapstructure:"base_port" json:"base_port" validate:"required,gt=0,lt=65536"`
	// MaxSubscriptions is the max number of concurrently active subscriptions
	MaxSubscriptions int `mapstructure:"max_subscriptions" json:"max_subscriptions" validate:"required,gte=1,lte=64"`
}

// ===============================================================================
// Server Config

// ControlListenConfig server control channel listen parameters
type ControlListenConfig struct {
	// ListenOn is the interface the control channel listens on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the control channel TCP port
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"gte=0,lt=65536"`
	// ConnectionPolicy what to do with a new viewer while one is connected
	ConnectionPolicy string `mapstructure:"connection_policy" json:"connection_policy" validate:"required,oneof=preempt reject"`
}

// PublishConfig server data channel parameters
type PublishConfig struct {
	DataPlaneConfig `mapstructure:",squash"`
	// PublishInterval is the publisher cadence in milliseconds
	PublishInterval int `mapstructure:"publish_interval_ms" json:"publish_interval_ms" validate:"gte=1"`
	// TargetHost overrides the viewer address datagrams are sent to. When
	// empty the remote address of the control connection is used.
	TargetHost string `mapstructure:"target_host" json:"target_host" validate:"omitempty,hostname|ip"`
}

// SourceConfig sample source parameters
type SourceConfig struct {
	// Kind selects the sample source
	Kind string `mapstructure:"kind" json:"kind" validate:"required,oneof=random sine square triangle sawtooth nats"`
	// Min lower bound of generated values
	Min float64 `mapstructure:"min" json:"min"`
	// Max upper bound of generated values
	Max float64 `mapstructure:"max" json:"max" validate:"gtfield=Min"`
	// NATSSubjectPrefix subject prefix the NATS source listens under
	NATSSubjectPrefix string `mapstructure:"nats_subject_prefix" json:"nats_subject_prefix" validate:"required"`
}

// ServerConfig telemetry source server config
type ServerConfig struct {
	// Control is the control channel config
	Control ControlListenConfig `mapstructure:"control" json:"control" validate:"required,dive"`
	// Data is the data channel config
	Data PublishConfig `mapstructure:"data" json:"data" validate:"required,dive"`
	// Catalog is the list of variables offered to viewers
	Catalog []string `mapstructure:"catalog" json:"catalog" validate:"required,min=1,unique"`
	// Source is the sample source config
	Source SourceConfig `mapstructure:"source" json:"source" validate:"required,dive"`
	// APIServer is the status API server config
	APIServer HTTPServerConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// MetricsEnabled whether to expose prometheus metrics
	MetricsEnabled bool `mapstructure:"metrics_enabled" json:"metrics_enabled"`
}

// PublishInterval helper function to get the publisher cadence
func (c ServerConfig) PublishInterval() time.Duration {
	return time.Millisecond * time.Duration(c.Data.PublishInterval)
}

// ===============================================================================
// Viewer Config

// ControlConnectConfig viewer control channel connect parameters
type ControlConnectConfig struct {
	// ServerHost is the host of the telemetry server
	ServerHost string `mapstructure:"server_host" json:"server_host" validate:"required,hostname|ip"`
	// ServerPort is the control channel TCP port of the telemetry server
	ServerPort uint16 `mapstructure:"server_port" json:"server_port" validate:"required,gt=0,lt=65536"`
	// ConnectTimeout is the max duration for connecting in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
}

// ListenConfig viewer data channel parameters
type ListenConfig struct {
	DataPlaneConfig `mapstructure:",squash"`
	// ListenOn is the interface data channels bind on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// ReceiveTimeout bounds a blocking datagram read in milliseconds
	ReceiveTimeout int `mapstructure:"receive_timeout_ms" json:"receive_timeout_ms" validate:"gte=1"`
}

// RelayConfig optional NATS relay of delivered samples
type RelayConfig struct {
	// Enabled whether to relay samples
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// SubjectPrefix is the subject prefix samples are published under
	SubjectPrefix string `mapstructure:"subject_prefix" json:"subject_prefix" validate:"required"`
}

// ViewerConfig telemetry viewer config
type ViewerConfig struct {
	// Control is the control channel config
	Control ControlConnectConfig `mapstructure:"control" json:"control" validate:"required,dive"`
	// Data is the data channel config
	Data ListenConfig `mapstructure:"data" json:"data" validate:"required,dive"`
	// QueueDepth is the depth of the sample delivery queue
	QueueDepth int `mapstructure:"queue_depth" json:"queue_depth" validate:"gte=1"`
	// RefreshIntervalMS is the presentation refresh cadence in milliseconds
	RefreshIntervalMS int `mapstructure:"refresh_interval_ms" json:"refresh_interval_ms" validate:"gte=1"`
	// SeriesCapacity is the number of points retained per variable
	SeriesCapacity int `mapstructure:"series_capacity" json:"series_capacity" validate:"gte=1"`
	// APIServer is the viewer API server config
	APIServer HTTPServerConfig `mapstructure:"api_server" json:"api_server" validate:"required,dive"`
	// Relay is the NATS relay config
	Relay RelayConfig `mapstructure:"relay" json:"relay" validate:"required,dive"`
	// MetricsEnabled whether to expose prometheus metrics
	MetricsEnabled bool `mapstructure:"metrics_enabled" json:"metrics_enabled"`
}

// ReceiveTimeout helper function to get the datagram read timeout
func (c ViewerConfig) ReceiveTimeout() time.Duration {
	return time.Millisecond * time.Duration(c.Data.ReceiveTimeout)
}

// ConnectTimeout helper function to get the control connect timeout
func (c ViewerConfig) ConnectTimeout() time.Duration {
	return time.Second * time.Duration(c.Control.ConnectTimeout)
}

// RefreshInterval helper function to get the presentation refresh cadence
func (c ViewerConfig) RefreshInterval() time.Duration {
	return time.Millisecond * time.Duration(c.RefreshIntervalMS)
}

// ===============================================================================
// Complete Configuration Structure

// SystemConfig defines the complete system configuration
type SystemConfig struct {
	// NATS are the NATS related config parameters
	NATS NATSConfig `mapstructure:"nats" json:"nats" validate:"required,dive"`
	// Server are the telemetry server configs
	Server *ServerConfig `mapstructure:"server,omitempty" json:"server,omitempty" validate:"omitempty,dive"`
	// Viewer are the telemetry viewer configs
	Viewer *ViewerConfig `mapstructure:"viewer,omitempty" json:"viewer,omitempty" validate:"omitempty,dive"`
}

// DefaultCatalog the variables offered when no catalog is configured
var DefaultCatalog = []string{"Temperatura", "Pressione", "Umidità", "Velocità", "Altitudine"}

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default NATS settings
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default server settings
	viper.SetDefault("server.control.listen_on", "127.0.0.1")
	viper.SetDefault("server.control.listen_port", 6000)
	viper.SetDefault("server.control.connection_policy", "preempt")
	viper.SetDefault("server.data.base_port", 5005)
	viper.SetDefault("server.data.max_subscriptions", 4)
	viper.SetDefault("server.data.publish_interval_ms", 100)
	viper.SetDefault("server.data.target_host", "")
	viper.SetDefault("server.catalog", DefaultCatalog)
	viper.SetDefault("server.source.kind", "random")
	viper.SetDefault("server.source.min", -10.0)
	viper.SetDefault("server.source.max", 10.0)
	viper.SetDefault("server.source.nats_subject_prefix", "telestream.source")
	viper.SetDefault("server.api_server.listen_on", "0.0.0.0")
	viper.SetDefault("server.api_server.listen_port", 3000)
	viper.SetDefault("server.api_server.read_timeout_sec", 60)
	viper.SetDefault("server.api_server.write_timeout_sec", 60)
	viper.SetDefault("server.api_server.idle_timeout_sec", 600)
	viper.SetDefault("server.api_server.request_id_header", "Telestream-Request-ID")
	viper.SetDefault("server.metrics_enabled", true)

	// Default viewer settings
	viper.SetDefault("viewer.control.server_host", "127.0.0.1")
	viper.SetDefault("viewer.control.server_port", 6000)
	viper.SetDefault("viewer.control.connect_timeout_sec", 5)
	viper.SetDefault("viewer.data.listen_on", "127.0.0.1")
	viper.SetDefault("viewer.data.base_port", 5005)
	viper.SetDefault("viewer.data.max_subscriptions", 4)
	viper.SetDefault("viewer.data.receive_timeout_ms", 100)
	viper.SetDefault("viewer.queue_depth", 256)
	viper.SetDefault("viewer.refresh_interval_ms", 200)
	viper.SetDefault("viewer.series_capacity", 1000)
	viper.SetDefault("viewer.api_server.listen_on", "0.0.0.0")
	viper.SetDefault("viewer.api_server.listen_port", 3001)
	viper.SetDefault("viewer.api_server.read_timeout_sec", 60)
	viper.SetDefault("viewer.api_server.write_timeout_sec", 60)
	viper.SetDefault("viewer.api_server.idle_timeout_sec", 600)
	viper.SetDefault("viewer.api_server.request_id_header", "Telestream-Request-ID")
	viper.SetDefault("viewer.relay.enabled", false)
	viper.SetDefault("viewer.relay.subject_prefix", "telestream.samples")
	viper.SetDefault("viewer.metrics_enabled", true)
}
