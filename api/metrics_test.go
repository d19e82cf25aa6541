package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/woozar/prophecy-sub003/broker"
)

func TestRegisterMetricsExposesClientGauge(t *testing.T) {
	e := echo.New()
	b := broker.New(broker.Options{})
	b.AddClient("a", broker.SinkFunc(func([]byte) error { return nil }))
	b.AddClient("b", broker.SinkFunc(func([]byte) error { return nil }))
	b.AddClient("c", broker.SinkFunc(func([]byte) error { return nil }))

	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(e, reg, b); err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	Register(e, b, Options{})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "prophecy_stream_clients 3") {
		t.Fatalf("client gauge missing from metrics output:\n%s", body)
	}
	if !strings.Contains(body, "prophecy_http_requests_total") {
		t.Fatalf("request counter missing from metrics output:\n%s", body)
	}
}

func TestRegisterMetricsTwiceFails(t *testing.T) {
	b := broker.New(broker.Options{})
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(echo.New(), reg, b); err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	if err := RegisterMetrics(echo.New(), reg, b); err == nil {
		t.Fatal("expected duplicate registration error")
	}
}
