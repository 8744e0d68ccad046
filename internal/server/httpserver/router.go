package httpserver

import (
	"net/http"

	"github.com/yndnr/sessionguard/internal/core/domain"
	"github.com/yndnr/sessionguard/internal/telemetry/logger"
	"github.com/yndnr/sessionguard/internal/telemetry/metric"
)

// StateSource reports the current session state.
type StateSource interface {
	State() domain.AuthState
}

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Metrics backs /metrics. Nil serves the default Prometheus registry.
	Metrics *metric.Registry

	// Session backs /healthz and /v1/session. Nil disables /v1/session.
	Session StateSource

	Logger logger.Logger
}

// sessionView is the wire shape of /v1/session.
type sessionView struct {
	domain.AuthState
	Error string `json:"error,omitempty"`
}

// NewRouter builds the handler with every route and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", cfg.Metrics.Handler())

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		if cfg.Session != nil {
			body["session"] = cfg.Session.State().Status.String()
		}
		writeJSON(w, http.StatusOK, body)
	})

	if cfg.Session != nil {
		mux.HandleFunc("GET /v1/session", func(w http.ResponseWriter, r *http.Request) {
			st := cfg.Session.State()
			writeJSON(w, http.StatusOK, sessionView{AuthState: st, Error: st.ErrorMessage()})
		})
	}

	return Chain(mux,
		RequestID(),
		Recover(cfg.Logger),
		Access(cfg.Logger),
	)
}
