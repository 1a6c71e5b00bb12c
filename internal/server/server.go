// Package server exposes the run operation over HTTP.
//
//	POST /api/simulate  {"code","testbench"} -> run result
//	POST /api/decode    {"vcd"}              -> trace
//	GET  /healthz
//	GET  /metrics       Prometheus exposition
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/robert-at-pretension-io/hdlsim/internal/config"
	"github.com/robert-at-pretension-io/hdlsim/internal/runner"
	"github.com/robert-at-pretension-io/hdlsim/internal/schema"
	"github.com/robert-at-pretension-io/hdlsim/internal/vcd"
)

// Server handles simulation requests. Every request gets its own run.
type Server struct {
	runner  *runner.Runner
	cfg     config.ServerConfig
	log     logrus.FieldLogger
	metrics *metrics
	mux     *http.ServeMux

	validators schema.Pool
}

// errorBody is written for requests that never reached a run.
type errorBody struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// New creates a server around r. A nil log uses the standard logrus logger.
func New(r *runner.Runner, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		runner:  r,
		cfg:     r.Config.Server,
		log:     log,
		metrics: newMetrics(),
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /api/simulate", s.instrument("simulate", s.handleSimulate))
	s.mux.HandleFunc("POST /api/decode", s.instrument("decode", s.handleDecode))
	s.mux.HandleFunc("GET /healthz", s.instrument("healthz", s.handleHealth))
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on the configured address until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.cfg.Addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	}
}

func (s *Server) handleSimulate(w http.ResponseWriter, req *http.Request) {
	body, ok := s.readBody(w, req, schema.Request)
	if !ok {
		return
	}
	var prog runner.Program
	if err := json.Unmarshal(body, &prog); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	start := time.Now()
	res, err := s.runner.Run(req.Context(), prog)
	if err != nil {
		s.log.WithError(err).Error("simulation failed")
		s.metrics.runs.WithLabelValues("error").Inc()
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Simulation failed"})
		return
	}
	outcome := "compile_failed"
	if res.Success {
		outcome = "simulated"
	}
	s.metrics.runs.WithLabelValues(outcome).Inc()
	s.metrics.runSeconds.Observe(time.Since(start).Seconds())
	if res.Success {
		s.metrics.transitions.Observe(float64(res.Stats.Transitions))
	}

	s.log.WithFields(logrus.Fields{
		"run_id":      res.RunID,
		"fingerprint": res.Fingerprint,
		"success":     res.Success,
		"diagnostics": len(res.Diagnostics),
		"advisories":  len(res.Advisories),
	}).Info("run complete")

	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDecode(w http.ResponseWriter, req *http.Request) {
	body, ok := s.readBody(w, req, schema.DecodeRequest)
	if !ok {
		return
	}
	var in struct {
		VCD string `json:"vcd"`
	}
	if err := json.Unmarshal(body, &in); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	tr, err := vcd.DecodeString(in.VCD)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, tr)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readBody reads a size-limited body and checks it against def. On failure
// the response has been written.
func (s *Server) readBody(w http.ResponseWriter, req *http.Request, def string) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{
				Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
			return nil, false
		}
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return nil, false
	}

	v, err := s.validators.Get()
	if err != nil {
		s.log.WithError(err).Error("init request validator")
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Simulation failed"})
		return nil, false
	}
	defer s.validators.Put(v)
	if err := v.ValidateJSON(def, body); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return nil, false
	}
	return body, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Warn("write response")
	}
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, req)
		elapsed := time.Since(start)

		s.metrics.requests.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		s.metrics.requestSeconds.WithLabelValues(endpoint).Observe(elapsed.Seconds())
		s.log.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"status":   rec.status,
			"duration": elapsed,
		}).Debug("request")
	}
}
