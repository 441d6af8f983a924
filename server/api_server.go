package server

import (
	"context"
	"encoding/json"
	"expvar"
	"net/http"
	"net/netip"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const apiShutdownTimeout = 5 * time.Second

type apiServer struct {
	pool      *BackendPool
	listeners []*Listener
	discovery *DiscoveryCache
	routes    *mux.Router
}

func newApiServer(pool *BackendPool, listeners []*Listener, discovery *DiscoveryCache, metricsBackend string) *apiServer {
	a := &apiServer{
		pool:      pool,
		listeners: listeners,
		discovery: discovery,
		routes:    mux.NewRouter(),
	}

	a.routes.Path("/backends").Methods(http.MethodGet).HandlerFunc(a.getBackends)
	a.routes.Path("/sessions").Methods(http.MethodGet).HandlerFunc(a.getSessions)
	a.routes.Path("/sessions/{client}").Methods(http.MethodDelete).HandlerFunc(a.deleteSession)
	a.routes.Path("/sessions/{client}/redirect").Methods(http.MethodPost).HandlerFunc(a.redirectSession)
	a.routes.Path("/discovery").Methods(http.MethodGet).HandlerFunc(a.getDiscovery)

	switch metricsBackend {
	case MetricsBackendPrometheus:
		a.routes.Path("/metrics").Handler(promhttp.Handler())
	case MetricsBackendExpvar:
		a.routes.Path("/debug/vars").Handler(expvar.Handler())
	}
	return a
}

// Run serves API requests on binding until ctx is done
func (a *apiServer) Run(ctx context.Context, binding string) error {
	httpServer := &http.Server{
		Addr:    binding,
		Handler: a.routes,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logrus.WithField("binding", binding).Info("Serving API requests")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "API server failed")
	}
	return nil
}

func (a *apiServer) getBackends(w http.ResponseWriter, _ *http.Request) {
	backends := a.pool.Backends()
	result := make([]string, 0, len(backends))
	for _, backend := range backends {
		result = append(result, backend.String())
	}
	writeJson(w, http.StatusOK, result)
}

func (a *apiServer) getSessions(w http.ResponseWriter, _ *http.Request) {
	result := make([]SessionInfo, 0)
	for _, l := range a.listeners {
		for _, s := range l.Sessions().Sessions() {
			result = append(result, s.Info())
		}
	}
	writeJson(w, http.StatusOK, result)
}

func (a *apiServer) deleteSession(w http.ResponseWriter, r *http.Request) {
	client, ok := parseClientVar(w, r)
	if !ok {
		return
	}
	evicted := false
	for _, l := range a.listeners {
		if l.Sessions().Evict(client) {
			evicted = true
		}
	}
	if !evicted {
		http.Error(w, "no session for client", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *apiServer) redirectSession(w http.ResponseWriter, r *http.Request) {
	client, ok := parseClientVar(w, r)
	if !ok {
		return
	}

	for _, l := range a.listeners {
		s := l.Sessions().Get(client)
		if s == nil {
			continue
		}
		backend, err := s.Redirect()
		switch {
		case errors.Is(err, ErrRedirectDisabled):
			http.Error(w, err.Error(), http.StatusForbidden)
		case errors.Is(err, ErrNoAlternative):
			http.Error(w, err.Error(), http.StatusConflict)
		case err != nil:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		default:
			writeJson(w, http.StatusOK, map[string]string{"backend": backend.String()})
		}
		return
	}
	http.Error(w, "no session for client", http.StatusNotFound)
}

func (a *apiServer) getDiscovery(w http.ResponseWriter, _ *http.Request) {
	snapshot := a.discovery.Snapshot()
	if snapshot == nil {
		http.Error(w, "no discovery snapshot yet", http.StatusNotFound)
		return
	}
	writeJson(w, http.StatusOK, snapshot)
}

func parseClientVar(w http.ResponseWriter, r *http.Request) (netip.AddrPort, bool) {
	client, err := netip.ParseAddrPort(mux.Vars(r)["client"])
	if err != nil {
		http.Error(w, "client must be ip:port", http.StatusBadRequest)
		return netip.AddrPort{}, false
	}
	return unmapAddrPort(client), true
}

func writeJson(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		logrus.WithError(err).Debug("Could not write API response")
	}
}
