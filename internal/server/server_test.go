package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

func TestHandleConfig(t *testing.T) {
	srv := &Server{
		listen: ":8080",
		log:    zerolog.Nop(),
		configFn: func() map[string]any {
			return map[string]any{
				"type":       "config",
				"listen":     ":8080",
				"source":     "dir",
				"wavelength": 1.54,
			}
		},
	}

	req := httptest.NewRequest("GET", "/config", nil)
	rec := httptest.NewRecorder()
	srv.handleConfig(rec, req)

	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if payload["source"].(string) != "dir" {
		t.Fatalf("unexpected source: %v", payload["source"])
	}
	if payload["wavelength"].(float64) != 1.54 {
		t.Fatalf("unexpected wavelength: %v", payload["wavelength"])
	}
}

func TestHandleConfigFallback(t *testing.T) {
	srv := &Server{listen: ":9090", log: zerolog.Nop()}

	rec := httptest.NewRecorder()
	srv.handleConfig(rec, httptest.NewRequest("GET", "/config", nil))

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["listen"].(string) != ":9090" {
		t.Fatalf("unexpected listen: %v", payload["listen"])
	}
}

func TestHandleStatus(t *testing.T) {
	srv := &Server{
		listen:  ":8080",
		log:     zerolog.Nop(),
		clients: map[*websocket.Conn]*sync.Mutex{&websocket.Conn{}: {}},
		statusFn: func() map[string]any {
			return map[string]any{"frames": 42, "source": "stream"}
		},
	}

	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["frames"].(float64) != 42 {
		t.Fatalf("unexpected frames: %v", payload["frames"])
	}
	if payload["ws_clients"].(float64) != 1 {
		t.Fatalf("unexpected ws_clients: %v", payload["ws_clients"])
	}
}

func TestHandleHealth(t *testing.T) {
	srv := &Server{log: zerolog.Nop()}
	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != 200 || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestMetricsServeText(t *testing.T) {
	m := NewMetrics()
	m.FramesIngested.Inc()
	m.FramesIngested.Inc()
	m.CurvePoints.Set(17)
	m.ObserveDecodeFailures(func() uint64 { return 3 })

	h := promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"pyref_monitor_frames_ingested_total 2",
		"pyref_monitor_curve_points 17",
		"pyref_monitor_stream_decode_failures_total 3",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q:\n%s", want, body)
		}
	}
}
