package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mediaflow/internal/api"
	"mediaflow/internal/config"
	"mediaflow/internal/logging"
	"mediaflow/internal/pipeline"
	"mediaflow/internal/queue"
)

const maxRequestBytes = 1 << 20

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	service *api.Service

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:    bind,
		logger:  logger,
		daemon:  d,
		service: d.service,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) routes(cfg *config.Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/processes", s.handleSubmit)
	mux.HandleFunc("GET /api/processes", s.handleList)
	mux.HandleFunc("GET /api/processes/{id}", s.handleProcess)
	mux.HandleFunc("DELETE /api/processes/{id}", s.handleDelete)
	mux.HandleFunc("POST /api/processes/{id}/force-advance", s.handleForceAdvance)
	mux.HandleFunc("POST /api/processes/{id}/force-complete", s.handleForceComplete)
	mux.HandleFunc("POST /api/processes/{id}/repair", s.handleRepair)
	mux.HandleFunc("GET /api/queue", s.handleQueue)

	root := http.NewServeMux()
	root.Handle("/api/", authMiddleware(cfg.Paths.APIToken, mux))
	if cfg.Metrics.Enabled && s.daemon.metrics != nil {
		root.Handle("GET /metrics", s.daemon.metrics.Handler())
	}
	return root
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.daemon.Status(r.Context()))
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.SubmitRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	resp, err := s.service.Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.ParseUint(query.Get("limit"), 10, 64)
	items, err := s.service.List(r.Context(), query["status"], query.Get("tenant"), limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if items == nil {
		items = []api.ProcessItem{}
	}
	s.writeJSON(w, http.StatusOK, api.ProcessListResponse{Items: items})
}

func (s *apiServer) handleProcess(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

func (s *apiServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleForceAdvance(w http.ResponseWriter, r *http.Request) {
	var req api.ForceAdvanceRequest
	if !s.decode(w, r, &req, false) {
		return
	}
	if err := s.service.ForceAdvance(r.Context(), r.PathValue("id"), req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeStatusView(w, r)
}

func (s *apiServer) handleForceComplete(w http.ResponseWriter, r *http.Request) {
	var req api.ForceCompleteRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	if err := s.service.ForceComplete(r.Context(), r.PathValue("id"), req); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeStatusView(w, r)
}

func (s *apiServer) handleRepair(w http.ResponseWriter, r *http.Request) {
	var req api.RepairRequest
	if !s.decode(w, r, &req, true) {
		return
	}
	resp, err := s.service.Repair(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *apiServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := queue.ListFilter{ProcessID: strings.TrimSpace(query.Get("process"))}
	if value := strings.TrimSpace(query.Get("stage")); value != "" {
		st, ok := pipeline.ParseStage(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, "unknown stage "+value)
			return
		}
		filter.Stage = st
	}
	for _, value := range query["status"] {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			filter.Statuses = append(filter.Statuses, queue.Status(trimmed))
		}
	}
	filter.Limit, _ = strconv.ParseUint(query.Get("limit"), 10, 64)

	items, err := s.service.Queue(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Items: items})
}

func (s *apiServer) writeStatusView(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// decode reads a JSON body into dst. An empty body is accepted when
// optional is set.
func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	status := api.StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.log().Warn("api request failed", logging.Error(err), logging.Int("status", status))
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
