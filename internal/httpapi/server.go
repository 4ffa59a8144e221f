// Package httpapi exposes a narrow observability HTTP surface: health,
// metrics, and single-step inspection. It is explicitly not a
// trading-domain admin dashboard or JSON-RPC surface — there is no
// mutation endpoint here.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cryptoladder/engine/internal/stepstore"
)

// Server wraps an httprouter.Router with the handful of routes this core
// exposes: a read-only ops surface, not a mutation API.
type Server struct {
	router *httprouter.Router
	store  stepstore.Store
}

func New(store stepstore.Store) *Server {
	s := &Server{router: httprouter.New(), store: store}
	s.router.GET("/healthz", s.handleHealthz)
	s.router.Handler("GET", "/metrics", promhttp.Handler())
	s.router.GET("/steps/:id", s.handleGetStep)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleGetStep(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := strconv.ParseUint(ps.ByName("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid step id", http.StatusBadRequest)
		return
	}

	step, err := s.store.Get(context.Background(), id)
	if err != nil {
		if _, ok := err.(stepstore.ErrNotFound); ok {
			http.Error(w, "step not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(step)
}
