// Package api exposes the Cluster Controller over HTTP: GET /aggregate[/id]
// for read-only status, and PUT /aggregate/{id}?method=enable|disable to
// drive the enable/disable workflow, matching the teacher's thin-handler
// ServeMux style.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/hamgr/pkg/controller"
	"github.com/cuemby/hamgr/pkg/haerrors"
	"github.com/cuemby/hamgr/pkg/log"
	"github.com/cuemby/hamgr/pkg/metrics"
	"github.com/cuemby/hamgr/pkg/store"
	"github.com/cuemby/hamgr/pkg/types"
	"github.com/rs/zerolog"
)

// hostEventCoordinator is the subset of hostdown.Coordinator this server
// calls into; declared locally so this package doesn't need to import
// pkg/hostdown just to accept nil in tests that don't exercise host events.
type hostEventCoordinator interface {
	HostDown(ctx context.Context, host string, at time.Time) error
	HostUp(ctx context.Context, host string, at time.Time) error
}

// Server is the HTTP front door for the Cluster Controller.
type Server struct {
	Ctrl      *controller.Controller
	Store     store.Store
	HostEvents hostEventCoordinator
	Logger    zerolog.Logger
	mux       *http.ServeMux
}

// NewServer builds a Server wired to ctrl and st and registers its routes.
func NewServer(ctrl *controller.Controller, st store.Store) *Server {
	s := &Server{
		Ctrl:   ctrl,
		Store:  st,
		Logger: log.WithComponent("api"),
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/ready", metrics.ReadyHandler())
	s.mux.HandleFunc("/live", metrics.LivenessHandler())
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/aggregate", s.aggregateCollectionHandler)
	s.mux.HandleFunc("/aggregate/", s.aggregateItemHandler)
	s.mux.HandleFunc("/hosts/", s.hostEventHandler)

	return s
}

// WithHostEvents wires a Host-Down Coordinator into the server's /hosts/
// routes and returns the same Server for chaining.
func (s *Server) WithHostEvents(co hostEventCoordinator) *Server {
	s.HostEvents = co
	return s
}

// Handler returns the HTTP handler for embedding in another server or test.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the HTTP server on addr until it errors or the process exits.
func (s *Server) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

// clusterResponse matches spec.md §6's documented shape for the out-of-scope
// web layer's `GET /aggregate[/id]`: {id, enabled, task_state}, with
// task_state set to the lowercased state while enabled and null otherwise.
type clusterResponse struct {
	ID        string  `json:"id"`
	Enabled   bool    `json:"enabled"`
	TaskState *string `json:"task_state"`
}

func newClusterResponse(c *types.Cluster) clusterResponse {
	resp := clusterResponse{ID: c.Name, Enabled: c.Enabled}
	if c.Enabled {
		state := strings.ToLower(string(c.TaskState))
		resp.TaskState = &state
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// aggregateCollectionHandler implements GET /aggregate (list every
// enabled cluster's current record).
func (s *Server) aggregateCollectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clusters, err := s.Store.GetAllActive()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]clusterResponse, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, newClusterResponse(c))
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// aggregateItemHandler implements GET /aggregate/{id} and
// PUT /aggregate/{id}?method=enable|disable.
func (s *Server) aggregateItemHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/aggregate/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getAggregate(w, r, id)
	case http.MethodPut:
		s.putAggregate(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) getAggregate(w http.ResponseWriter, r *http.Request, id string) {
	cluster, err := s.Store.Get(id)
	if err != nil {
		if errors.Is(err, haerrors.ErrNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(newClusterResponse(cluster))
}

func (s *Server) putAggregate(w http.ResponseWriter, r *http.Request, id string) {
	method := r.URL.Query().Get("method")

	switch method {
	case "enable":
		var body struct {
			Hosts []string `json:"hosts"`
		}
		if r.ContentLength > 0 {
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		if err := s.Ctrl.Enable(r.Context(), id, body.Hosts); err != nil {
			s.writeControllerError(w, err)
			return
		}
	case "disable":
		synchronize := r.URL.Query().Get("synchronize") != "false"
		if err := s.Ctrl.Disable(r.Context(), id, synchronize); err != nil {
			s.writeControllerError(w, err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, errors.New("unknown ?method, want enable or disable"))
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// hostEventHandler implements POST /hosts/{host}/down and
// POST /hosts/{host}/up, the admin-facing trigger for events the original
// system received from its host-monitoring layer (out of scope here per
// spec.md §2's Non-goals).
func (s *Server) hostEventHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.HostEvents == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("host event coordinator not configured"))
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/hosts/")
	host, action, ok := strings.Cut(rest, "/")
	if !ok || host == "" {
		http.NotFound(w, r)
		return
	}

	var err error
	switch action {
	case "down":
		err = s.HostEvents.HostDown(r.Context(), host, time.Now())
	case "up":
		err = s.HostEvents.HostUp(r.Context(), host, time.Now())
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		if errors.Is(err, haerrors.ErrHostNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if haerrors.IsClusterBusy(err) {
			writeError(w, http.StatusConflict, err)
			return
		}
		s.Logger.Error().Err(err).Str("host", host).Str("action", action).Msg("host event handling failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeControllerError(w http.ResponseWriter, err error) {
	if haerrors.IsClusterBusy(err) {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.Logger.Error().Err(err).Msg("controller call failed")
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

