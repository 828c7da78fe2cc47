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

package snapshot

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carverauto/livestatus/pkg/logger"
	"github.com/carverauto/livestatus/pkg/models"
	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(t *testing.T, handler http.Handler, retries int) *Loader {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &models.APIConfig{
		BaseURL:    srv.URL + "/api/v1",
		APIKey:     "secret",
		Timeout:    models.Duration(2 * time.Second),
		MaxRetries: retries,
	}

	return NewLoader(cfg, logger.NewTestLogger(),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))
}

func TestFetchServices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/services", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))

		_, _ = w.Write([]byte(`{"data":[
			{"id":"svc-1","name":"API","url":"https://api.example.com","interval":30000000000,"type":"HTTP","status":"HEALTHY"},
			{"id":"","name":"orphan"},
			{"id":"svc-2","name":"Web","url":"https://web.example.com","interval":"1m","status":"weird"},
			{"id":"svc-1","name":"duplicate"}
		]}`))
	})

	l := newTestLoader(t, mux, 0)

	entities, err := l.FetchServices(context.Background())
	require.NoError(t, err)
	require.Len(t, entities, 2)

	assert.Equal(t, "svc-1", entities[0].ID)
	assert.Equal(t, "API", entities[0].Name)
	assert.Equal(t, models.Duration(30*time.Second), entities[0].CheckInterval)
	assert.Equal(t, models.StatusHealthy, entities[0].Status)

	assert.Equal(t, "svc-2", entities[1].ID)
	assert.Equal(t, models.Duration(time.Minute), entities[1].CheckInterval)
	assert.Equal(t, models.StatusUnknown, entities[1].Status)
}

func TestFetchHistoryReversesToOldestFirst(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/services/svc-1/metrics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"service_id":"svc-1",
			"stats":{"uptime_percentage":99.5,"avg_latency":2000000,"total_checks":200},
			"history":[
				{"checked_at":"2025-06-01T12:02:00Z","latency":3000000,"success":true,"status_code":200},
				{"checked_at":"2025-06-01T12:01:00Z","latency":2000000,"success":false,"status_code":null},
				{"checked_at":"2025-06-01T12:00:00Z","latency":1000000,"success":true,"status_code":200}
			]}`))
	})

	l := newTestLoader(t, mux, 0)

	metrics, err := l.FetchHistory(context.Background(), "svc-1")
	require.NoError(t, err)

	require.Len(t, metrics.History, 3)
	assert.Equal(t, models.Duration(1000000), metrics.History[0].Latency)
	assert.Equal(t, models.Duration(3000000), metrics.History[2].Latency)
	assert.False(t, metrics.History[1].Success)
	assert.True(t, metrics.History[0].CheckedAt.Before(metrics.History[2].CheckedAt))

	require.NotNil(t, metrics.Stats)
	assert.InDelta(t, 99.5, metrics.Stats.UptimePercentage, 0.001)
	assert.Equal(t, int64(200), metrics.Stats.TotalChecks)
}

func TestFetchHistoryEmpty(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/services/svc-1/metrics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"history":null,"stats":null}`))
	})

	metrics, err := newTestLoader(t, mux, 0).FetchHistory(context.Background(), "svc-1")
	require.NoError(t, err)
	assert.Equal(t, "svc-1", metrics.ServiceID)
	assert.Empty(t, metrics.History)
	assert.Nil(t, metrics.Stats)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/services", func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	entities, err := newTestLoader(t, mux, 3).FetchServices(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entities)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/services", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := newTestLoader(t, mux, 2).FetchServices(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransport)

	var terr *models.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusBadGateway, terr.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/services/missing/metrics", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := newTestLoader(t, mux, 3).FetchHistory(context.Background(), "missing")
	require.ErrorIs(t, err, models.ErrTransport)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchMalformedBody(t *testing.T) {
	var calls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/services", func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"data":[{"id":`))
	})

	_, err := newTestLoader(t, mux, 3).FetchServices(context.Background())
	require.ErrorIs(t, err, models.ErrMalformedPayload)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchUnreachable(t *testing.T) {
	cfg := &models.APIConfig{BaseURL: "http://127.0.0.1:1/api/v1", Timeout: models.Duration(time.Second)}
	l := NewLoader(cfg, logger.NewTestLogger(),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }))

	_, err := l.FetchServices(context.Background())
	require.ErrorIs(t, err, models.ErrTransport)
}
