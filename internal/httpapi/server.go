// Package httpapi exposes the engine over HTTP: evaluation and outcome
// sweeps as POSTs, stats as a GET, Prometheus metrics, and a websocket
// stream of newly created signals.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/gheezy/signalengine/internal/config"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// Server wires the router, middleware and handlers around net/http.
type Server struct {
	router *mux.Router
	server *http.Server
	cfg    config.ServerConfig
}

func NewServer(cfg config.ServerConfig, h *Handlers, gatherer prometheus.Gatherer, stream *StreamHub) *Server {
	router := mux.NewRouter()

	s := &Server{
		router: router,
		cfg:    cfg,
	}

	router.Use(s.requestIDMiddleware)
	router.Use(s.loggingMiddleware)

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/subjects/{subject}/symbols/{symbol}/evaluate", h.Evaluate).Methods("POST")
	api.HandleFunc("/subjects/{subject}/outcomes/check", h.CheckPending).Methods("POST")
	api.HandleFunc("/subjects/{subject}/stats", h.Stats).Methods("GET")
	api.HandleFunc("/signals/{id}", h.GetSignal).Methods("GET")

	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.HandleFunc("/v1/stream", stream.Serve)
	router.NotFoundHandler = http.HandlerFunc(h.NotFound)

	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Info().Str("addr", s.cfg.Listen).Msg("http server starting")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Info().
			Str("request_id", requestID(r)).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("http request")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestID(r *http.Request) string {
	if id, ok := r.Context().Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
