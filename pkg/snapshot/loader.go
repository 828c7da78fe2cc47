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

// Package snapshot fetches authoritative state from the monitoring REST API.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/carverauto/livestatus/pkg/logger"
	"github.com/carverauto/livestatus/pkg/models"
	"github.com/cenkalti/backoff/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"
)

const (
	servicesPath     = "/services"
	metricsPathFmt   = "/services/%s/metrics"
	apiKeyHeader     = "X-API-Key"
	maxResponseBytes = 8 << 20

	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
)

//nolint:gochecknoglobals // shared codec configuration
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Loader performs the list and history fetches. Transient transport failures are
// retried with exponential backoff; 4xx responses and undecodable bodies are not.
type Loader struct {
	baseURL    string
	apiKey     string
	client     *http.Client
	maxRetries int
	newBackOff func() backoff.BackOff
	logger     logger.Logger
}

type Option func(*Loader)

// WithHTTPClient replaces the default client built from the API timeout.
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithBackOff overrides the retry schedule.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(l *Loader) { l.newBackOff = fn }
}

func NewLoader(cfg *models.APIConfig, log logger.Logger, opts ...Option) *Loader {
	l := &Loader{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		client:     &http.Client{Timeout: time.Duration(cfg.Timeout)},
		maxRetries: cfg.MaxRetries,
		newBackOff: defaultBackOff,
		logger:     log,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

func defaultBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = defaultInitialBackoff
	bo.MaxInterval = defaultMaxBackoff
	bo.RandomizationFactor = 0.2

	return bo
}

type servicesResponse struct {
	Data []models.ServiceEntity `json:"data"`
}

type historyEntry struct {
	CheckedAt  time.Time       `json:"checked_at"`
	Latency    models.Duration `json:"latency"`
	Success    bool            `json:"success"`
	StatusCode *int            `json:"status_code,omitempty"`
}

type metricsResponse struct {
	ServiceID string               `json:"service_id"`
	History   []historyEntry       `json:"history"`
	Stats     *models.ServiceStats `json:"stats"`
}

// FetchServices returns the full service list. Entries without an id are dropped and
// duplicate ids keep their first occurrence.
func (l *Loader) FetchServices(ctx context.Context) ([]models.ServiceEntity, error) {
	var body servicesResponse

	if err := l.getJSON(ctx, "list services", servicesPath, &body); err != nil {
		return nil, err
	}

	valid := lo.Filter(body.Data, func(e models.ServiceEntity, _ int) bool {
		if strings.TrimSpace(e.ID) == "" {
			l.logger.Warn().Str("name", e.Name).Msg("Dropping service without id from snapshot")
			return false
		}

		return true
	})

	entities := lo.UniqBy(valid, func(e models.ServiceEntity) string { return e.ID })
	for i := range entities {
		entities[i].Status = models.ParseStatus(string(entities[i].Status))
	}

	l.logger.Debug().Int("count", len(entities)).Msg("Fetched service snapshot")

	return entities, nil
}

// FetchHistory returns recent samples for one service, oldest first, along with its
// summary stats. The API returns history newest first.
func (l *Loader) FetchHistory(ctx context.Context, id string) (*models.ServiceMetrics, error) {
	var body metricsResponse

	if err := l.getJSON(ctx, "service metrics", fmt.Sprintf(metricsPathFmt, url.PathEscape(id)), &body); err != nil {
		return nil, err
	}

	samples := lo.Map(body.History, func(h historyEntry, _ int) models.LatencySample {
		return models.LatencySample{CheckedAt: h.CheckedAt, Latency: h.Latency, Success: h.Success}
	})
	slices.Reverse(samples)

	serviceID := body.ServiceID
	if serviceID == "" {
		serviceID = id
	}

	return &models.ServiceMetrics{ServiceID: serviceID, Stats: body.Stats, History: samples}, nil
}

func (l *Loader) getJSON(ctx context.Context, op, path string, dst interface{}) error {
	target := l.baseURL + path

	operation := func() (struct{}, error) {
		err := l.doGet(ctx, op, target, dst)
		if err == nil {
			return struct{}{}, nil
		}

		var terr *models.TransportError
		if errors.As(err, &terr) && terr.Retryable() && ctx.Err() == nil {
			return struct{}{}, err
		}

		return struct{}{}, backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		l.logger.Warn().Err(err).Str("op", op).Dur("retry_in", next).Msg("Snapshot fetch failed, retrying")
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(l.newBackOff()),
		backoff.WithMaxTries(uint(l.maxRetries)+1),
		backoff.WithNotify(notify),
	)

	return err
}

func (l *Loader) doGet(ctx context.Context, op, target string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")

	if l.apiKey != "" {
		req.Header.Set(apiKeyHeader, l.apiKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return &models.TransportError{Op: op, URL: target, Err: err}
	}

	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return &models.TransportError{Op: op, URL: target, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(dst); err != nil {
		return fmt.Errorf("%w: %s response: %w", models.ErrMalformedPayload, op, err)
	}

	return nil
}
