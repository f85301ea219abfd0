// Package daemon serves the controller's status and ingest API over a unix
// socket. The server doubles as the controller's emission sink: it keeps the
// latest tick output for the status endpoint.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/GlitchedBaby/TrafficXia/internal/api"
	"github.com/GlitchedBaby/TrafficXia/internal/config"
	"github.com/GlitchedBaby/TrafficXia/internal/db"
	"github.com/GlitchedBaby/TrafficXia/internal/model"
	"github.com/GlitchedBaby/TrafficXia/internal/registry"
)

const defaultEventsLimit = 50

type Server struct {
	cfg      config.Config
	registry *registry.Registry
	store    *db.Store
	runID    string

	httpSrv  *http.Server
	mu       sync.Mutex
	listener net.Listener
	latest   model.TickOutput
	hasTick  bool

	shutdown    sync.Once
	shutdownErr error
}

func NewServer(cfg config.Config, reg *registry.Registry, store *db.Store, runID string) *Server {
	mux := http.NewServeMux()
	s := &Server{
		cfg:      cfg,
		registry: reg,
		store:    store,
		runID:    runID,
		httpSrv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
	mux.HandleFunc("/v1/health", s.healthHandler)
	mux.HandleFunc("/v1/status", s.statusHandler)
	mux.HandleFunc("/v1/approaches", s.approachesHandler)
	mux.HandleFunc("/v1/samples", s.samplesHandler)
	if store != nil {
		mux.HandleFunc("/v1/events", s.eventsHandler)
	}
	return s
}

// Emit implements the controller sink.
func (s *Server) Emit(out model.TickOutput) {
	s.mu.Lock()
	s.latest = out
	s.hasTick = true
	s.mu.Unlock()
}

func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	if st, err := os.Lstat(s.cfg.SocketPath); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			return fmt.Errorf("socket path exists and is not unix socket: %s", s.cfg.SocketPath)
		}
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			return fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat socket path: %w", err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen uds: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		ln.Close() //nolint:errcheck
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("serve uds: %w", err)
		}
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		if s.httpSrv != nil {
			if err := s.httpSrv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		s.mu.Lock()
		listener := s.listener
		s.listener = nil
		s.mu.Unlock()
		if listener != nil {
			if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		_ = os.Remove(s.cfg.SocketPath)
		s.shutdownErr = errors.Join(errs...)
	})
	return s.shutdownErr
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, model.ErrCodeInvalidRequest, "GET only")
		return
	}
	writeJSON(w, http.StatusOK, api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		RunID:         s.runID,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, model.ErrCodeInvalidRequest, "GET only")
		return
	}
	s.mu.Lock()
	out := s.latest
	hasTick := s.hasTick
	s.mu.Unlock()
	if !hasTick {
		writeError(w, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "no tick emitted yet")
		return
	}

	names := map[int]string{}
	for _, snap := range s.registry.SnapshotAll() {
		names[snap.ID] = snap.Name
	}
	signals := make([]api.SignalItem, 0, len(out.Commands))
	for _, cmd := range out.Commands {
		signals = append(signals, api.SignalItem{
			ApproachID: cmd.ApproachID,
			Name:       names[cmd.ApproachID],
			Phase:      string(cmd.Phase),
		})
	}
	resp := api.StatusResponse{
		SchemaVersion:    api.SchemaVersion,
		GeneratedAt:      time.Now().UTC(),
		RunID:            s.runID,
		TickSeq:          out.Seq,
		CycleSeq:         out.State.CycleSeq,
		ActiveApproach:   out.State.ActiveApproach,
		Phase:            string(out.State.Phase),
		CommittedGreenMS: out.State.CommittedGreen.Milliseconds(),
		Extensions:       out.State.Extensions,
		Signals:          signals,
	}
	if !out.At.IsZero() {
		at := out.At
		resp.TickAt = &at
	}
	if !out.State.PhaseStartedAt.IsZero() {
		started := out.State.PhaseStartedAt
		resp.PhaseStartedAt = &started
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) approachesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, model.ErrCodeInvalidRequest, "GET only")
		return
	}
	now := time.Now().UTC()
	env := api.ApproachesEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   now,
	}
	for _, snap := range s.registry.SnapshotAll() {
		_, stale, err := s.registry.Observe(snap.ID, now)
		if err != nil {
			stale = false
		}
		item := api.ApproachItem{
			ApproachID: snap.ID,
			Name:       snap.Name,
			SensorRef:  snap.SensorRef,
			Count:      snap.Count,
			IdleStreak: snap.IdleStreak,
			Stale:      stale,
		}
		if !snap.LastSampleAt.IsZero() {
			at := snap.LastSampleAt
			item.LastSampleAt = &at
		}
		env.Approaches = append(env.Approaches, item)
	}
	writeJSON(w, http.StatusOK, env)
}

func (s *Server) samplesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, model.ErrCodeInvalidRequest, "POST only")
		return
	}
	var req api.SampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, model.ErrCodeInvalidRequest, fmt.Sprintf("decode sample: %v", err))
		return
	}
	at := time.Now().UTC()
	if req.ObservedAt != nil && !req.ObservedAt.IsZero() {
		at = req.ObservedAt.UTC()
	}
	if err := s.registry.Update(req.ApproachID, req.Count, at); err != nil {
		if errors.Is(err, model.ErrUnknownApproach) {
			writeError(w, http.StatusNotFound, model.ErrCodeUnknownApproach, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, model.ErrCodeInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, api.SampleResponse{
		Accepted:   true,
		ApproachID: req.ApproachID,
		RecordedAt: at,
	})
}

func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, model.ErrCodeInvalidRequest, "GET only")
		return
	}
	limit := defaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, model.ErrCodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	events, err := s.store.ListPhaseEvents(r.Context(), s.runID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, model.ErrCodeUnavailable, err.Error())
		return
	}
	env := api.EventsEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		RunID:         s.runID,
	}
	for _, ev := range events {
		env.Events = append(env.Events, api.PhaseEventItem{
			EventID:          ev.EventID,
			Seq:              ev.Seq,
			ApproachID:       ev.ApproachID,
			Phase:            string(ev.Phase),
			EnteredAt:        ev.EnteredAt,
			CommittedGreenMS: ev.CommittedGreen.Milliseconds(),
			Extensions:       ev.Extensions,
		})
	}
	writeJSON(w, http.StatusOK, env)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: api.ErrorBody{Code: code, Message: message}})
}
