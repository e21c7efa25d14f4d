// Package httpapi exposes a small REST surface over the scan registry:
// read-only GET routes for per-PLC status and tag dumps, and one POST
// route that resets statistics.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yatesdr/cipscan/logging"
	"github.com/yatesdr/cipscan/scan"
)

// Server is the HTTP server fronting the scan registry.
type Server struct {
	addr     string
	registry *scan.Registry

	mu      sync.RWMutex
	server  *http.Server
	router  chi.Router
	running bool
}

// NewServer builds a server bound to addr (host:port) over registry.
func NewServer(addr string, registry *scan.Registry) *Server {
	s := &Server{addr: addr, registry: registry}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/plcs", s.handleListPLCs)
	r.Get("/plcs/{name}", s.handlePLCReport)
	r.Get("/plcs/{name}/tags", s.handleDumpTags)
	r.Post("/stats/reset", s.handleResetStatistics)

	s.router = r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type debugLogWriter string

func (tag debugLogWriter) Write(p []byte) (int, error) {
	logging.DebugLog(string(tag), "%s", string(p))
	return len(p), nil
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(debugLogWriter("httpapi"), "", 0),
	}

	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			logging.DebugError("httpapi", "ListenAndServe", err)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.running = true
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.running = false
	s.server = nil
	return err
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleListPLCs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

func (s *Server) handlePLCReport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	status, ok := s.registry.StatusFor(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("plc %q not found", name)})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleDumpTags(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if s.registry.FindPLC(name) == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("plc %q not found", name)})
		return
	}

	var out []scan.TagDump
	for _, d := range s.registry.Dump() {
		if d.PLC == name {
			out = append(out, d)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResetStatistics(w http.ResponseWriter, r *http.Request) {
	s.registry.ResetStatistics()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
