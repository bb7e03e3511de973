package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rzbill/pulse/internal/runtime"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// Server exposes health, metrics and read-only queue state over HTTP.
type Server struct {
	rt     *runtime.Runtime
	srv    *http.Server
	lis    net.Listener
	logger logpkg.Logger
}

// New builds the ops server for rt.
func New(rt *runtime.Runtime, logger logpkg.Logger) *Server {
	if logger == nil {
		logger = logpkg.NewNopLogger()
	}
	s := &Server{rt: rt, logger: logger.WithComponent("http")}
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if m := rt.Metrics(); m != nil {
		r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/v1/registry/count", s.handleRegistryCount).Methods(http.MethodGet)
	r.HandleFunc("/v1/queues/{name}/stats", s.handleQueueStats).Methods(http.MethodGet)
	s.srv = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	s.logger.Info("ops server listening", logpkg.Str("addr", l.Addr().String()))
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close closes the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		s.logger.Warn("health check failed", logpkg.Err(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegistryCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.rt.Registry().Count(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

type queueStats struct {
	Name        string `json:"name"`
	Mode        string `json:"mode"`
	Backlog     int64  `json:"backlog"`
	Outstanding int64  `json:"outstanding"`
	Unacked     int64  `json:"unacked"`
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	q, err := s.rt.Queue(r.Context(), name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	st, err := q.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, queueStats{
		Name:        q.Name(),
		Mode:        string(q.Mode()),
		Backlog:     st.Backlog,
		Outstanding: st.Outstanding,
		Unacked:     st.Unacked,
	})
}
