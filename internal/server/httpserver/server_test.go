package httpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
)

type fixedState domain.AuthState

func (f fixedState) State() domain.AuthState { return domain.AuthState(f) }

func TestServer_StartShutdown(t *testing.T) {
	s := New("127.0.0.1:0", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "pong")
	}), WithLogger(logger.Discard()))

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if strings.HasSuffix(s.Addr(), ":0") {
		t.Fatalf("Addr() = %q, want bound port", s.Addr())
	}

	resp, err := http.Get("http://" + s.Addr())
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if err, ok := <-s.Errors(); ok {
		t.Errorf("Errors() delivered %v after clean shutdown", err)
	}
}

func TestServer_StartAddrInUse(t *testing.T) {
	first := New("127.0.0.1:0", http.NotFoundHandler(), WithLogger(logger.Discard()))
	if err := first.Start(); err != nil {
		t.Fatal(err)
	}
	defer first.Shutdown(context.Background())

	second := New(first.Addr(), http.NotFoundHandler(), WithLogger(logger.Discard()))
	if err := second.Start(); err == nil {
		second.Shutdown(context.Background())
		t.Fatal("Start() on a bound address should fail")
	}
}

func TestRouter(t *testing.T) {
	profile := domain.NewDefaultProfile("u1", nil, time.Unix(100, 0))
	state := fixedState(domain.Degraded(profile, domain.KindCircuitOpen, domain.ErrCircuitOpen))
	reg := metric.NewRegistry()
	reg.ObserveTransition("degraded")

	h := NewRouter(RouterConfig{Metrics: reg, Session: state, Logger: logger.Discard()})

	tests := []struct {
		name     string
		path     string
		status   int
		contains []string
	}{
		{"healthz", "/healthz", http.StatusOK, []string{`"status":"ok"`, `"session":"degraded"`}},
		{"session", "/v1/session", http.StatusOK, []string{`"status":"degraded"`, `"reason":"circuit_open"`, `"subject_id":"u1"`, `"error":`}},
		{"metrics", "/metrics", http.StatusOK, []string{"sessionguard_"}},
		{"unknown", "/nope", http.StatusNotFound, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			for _, want := range tt.contains {
				if !strings.Contains(rec.Body.String(), want) {
					t.Errorf("body missing %q:\n%s", want, rec.Body.String())
				}
			}
			if rec.Header().Get(HeaderRequestID) == "" {
				t.Error("response has no request ID")
			}
		})
	}
}

func TestRouter_WithoutSession(t *testing.T) {
	h := NewRouter(RouterConfig{Logger: logger.Discard()})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/session", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("/v1/session status = %d, want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["session"]; ok {
		t.Errorf("healthz = %v, want no session key", body)
	}
}
