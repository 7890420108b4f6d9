package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the profile CRUD surface, health, and metrics endpoints.
type Server struct {
	router   *mux.Router
	http     *http.Server
	profiles *ProfileHandler
	logger   *zap.SugaredLogger
}

// NewServer builds the router and wires the profile handler.
func NewServer(host string, port int, profiles *ProfileHandler, logger *zap.SugaredLogger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		profiles: profiles,
		logger:   logger,
	}
	s.routes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.loggingMiddleware(s.router),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/profiles", s.profiles.List).Methods(http.MethodGet)
	v1.HandleFunc("/profiles", s.profiles.Create).Methods(http.MethodPost)
	v1.HandleFunc("/profiles/{id}", s.profiles.Get).Methods(http.MethodGet)
	v1.HandleFunc("/profiles/{id}", s.profiles.Update).Methods(http.MethodPut)
	v1.HandleFunc("/profiles/{id}", s.profiles.Delete).Methods(http.MethodDelete)

	s.router.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Start begins serving in a goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.Infof("API listening on %s", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("API server failed: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugf("%s %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
