/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/carverauto/livestatus/pkg/logger"
)

const (
	DefaultAPITimeout       = 10 * time.Second
	DefaultMaxRetries       = 3
	DefaultReconnectDelay   = 5 * time.Second
	DefaultStreamBufferSize = 256
	DefaultRefreshInterval  = 30 * time.Second
	DefaultHistoryCapacity  = 50
	DefaultUnknownWarnTTL   = time.Minute
	DefaultNATSSubject      = "livestatus.connection"
	DefaultCloudEventSource = "livestatus"

	minReconnectDelay = 100 * time.Millisecond
	defaultStreamPath = "/ws"
	schemeHTTP        = "http"
	schemeHTTPS       = "https"
	schemeWS          = "ws"
	schemeWSS         = "wss"
)

// APIConfig points at the monitoring backend's REST API.
type APIConfig struct {
	BaseURL    string   `json:"base_url" yaml:"base_url"`
	APIKey     string   `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
	MaxRetries int      `json:"max_retries" yaml:"max_retries"`
}

// StreamConfig configures the live push channel.
type StreamConfig struct {
	URL             string   `json:"url" yaml:"url"`
	ReconnectDelay  Duration `json:"reconnect_delay" yaml:"reconnect_delay"`
	ReconnectJitter float64  `json:"reconnect_jitter" yaml:"reconnect_jitter"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout"`
	BufferSize      int      `json:"buffer_size" yaml:"buffer_size"`
}

// EngineConfig tunes reconciliation.
type EngineConfig struct {
	RefreshInterval Duration `json:"refresh_interval" yaml:"refresh_interval"`
	HistoryCapacity int      `json:"history_capacity" yaml:"history_capacity"`
	UnknownWarnTTL  Duration `json:"unknown_warn_ttl" yaml:"unknown_warn_ttl"`
}

// NATSConfig enables publishing connection state changes as CloudEvents.
// When Stream is set, events are published through JetStream and the stream is
// created if it does not exist.
type NATSConfig struct {
	Enabled bool           `json:"enabled" yaml:"enabled"`
	URL     string         `json:"url" yaml:"url"`
	Subject string         `json:"subject" yaml:"subject"`
	Source  string         `json:"source" yaml:"source"`
	Stream  string         `json:"stream,omitempty" yaml:"stream,omitempty"`
	TLS     *NATSTLSConfig `json:"tls,omitempty" yaml:"tls,omitempty"`
}

// NATSTLSConfig holds mTLS material for the NATS connection.
type NATSTLSConfig struct {
	CertFile   string `json:"cert_file" yaml:"cert_file"`
	KeyFile    string `json:"key_file" yaml:"key_file"`
	CAFile     string `json:"ca_file" yaml:"ca_file"`
	ServerName string `json:"server_name,omitempty" yaml:"server_name,omitempty"`
}

type UIConfig struct {
	Headless bool `json:"headless" yaml:"headless"`
}

// ClientConfig is the top-level configuration of the livestatus binary.
type ClientConfig struct {
	API     APIConfig          `json:"api" yaml:"api"`
	Stream  StreamConfig       `json:"stream" yaml:"stream"`
	Engine  EngineConfig       `json:"engine" yaml:"engine"`
	NATS    NATSConfig         `json:"nats" yaml:"nats"`
	UI      UIConfig           `json:"ui" yaml:"ui"`
	Logging *logger.Config     `json:"logging,omitempty" yaml:"logging,omitempty"`
	Metrics *logger.OTelConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// Validate fills defaults and rejects unusable values.
func (c *ClientConfig) Validate() error {
	if err := c.API.validate(); err != nil {
		return err
	}

	if err := c.Stream.validate(c.API.BaseURL); err != nil {
		return err
	}

	if err := c.Engine.validate(); err != nil {
		return err
	}

	return c.NATS.validate()
}

func (c *APIConfig) validate() error {
	c.BaseURL = strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if c.BaseURL == "" {
		return errBaseURLRequired
	}

	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != schemeHTTP && u.Scheme != schemeHTTPS) {
		return fmt.Errorf("%w: %q", errInvalidBaseURL, c.BaseURL)
	}

	if c.Timeout <= 0 {
		c.Timeout = Duration(DefaultAPITimeout)
	}

	if c.MaxRetries < 0 {
		return errNegativeRetries
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}

	return nil
}

func (c *StreamConfig) validate(baseURL string) error {
	if c.URL == "" {
		derived, err := StreamURLFromBase(baseURL)
		if err != nil {
			return err
		}

		c.URL = derived
	}

	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" || (u.Scheme != schemeWS && u.Scheme != schemeWSS) {
		return fmt.Errorf("%w: %q", errInvalidStreamURL, c.URL)
	}

	if time.Duration(c.ReconnectDelay) < minReconnectDelay {
		c.ReconnectDelay = Duration(DefaultReconnectDelay)
	}

	if c.ReconnectJitter < 0 || c.ReconnectJitter >= 1 {
		return fmt.Errorf("%w: %v", errInvalidJitter, c.ReconnectJitter)
	}

	if c.BufferSize <= 0 {
		c.BufferSize = DefaultStreamBufferSize
	}

	return nil
}

func (c *EngineConfig) validate() error {
	if c.RefreshInterval < 0 {
		return errInvalidRefreshTick
	}

	if c.RefreshInterval == 0 {
		c.RefreshInterval = Duration(DefaultRefreshInterval)
	}

	if c.HistoryCapacity < 0 {
		return errNegativeCapacity
	}

	if c.HistoryCapacity == 0 {
		c.HistoryCapacity = DefaultHistoryCapacity
	}

	if c.UnknownWarnTTL <= 0 {
		c.UnknownWarnTTL = Duration(DefaultUnknownWarnTTL)
	}

	return nil
}

func (c *NATSConfig) validate() error {
	if !c.Enabled {
		return nil
	}

	if c.URL == "" {
		return errNATSURLRequired
	}

	if c.Subject == "" {
		c.Subject = DefaultNATSSubject
	}

	if c.Source == "" {
		c.Source = DefaultCloudEventSource
	}

	return nil
}

// StreamURLFromBase derives the WebSocket endpoint from the REST base URL: same
// host, ws/wss scheme, path /ws.
func StreamURLFromBase(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", errInvalidBaseURL, baseURL)
	}

	scheme := schemeWS
	if u.Scheme == schemeHTTPS {
		scheme = schemeWSS
	}

	return (&url.URL{Scheme: scheme, Host: u.Host, Path: defaultStreamPath}).String(), nil
}
