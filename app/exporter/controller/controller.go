package controller

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/canopy-network/utxo-exporter/pkg/commit"
	"github.com/canopy-network/utxo-exporter/pkg/scheduler"
)

// SchedulerStatus is the scheduler view served on /status.
type SchedulerStatus interface {
	Status() scheduler.Status
}

// CommitStatus is the per-target view served on /status.
type CommitStatus interface {
	Status() []commit.Outcome
}

type Controller struct {
	Scheduler SchedulerStatus
	Commits   CommitStatus
	Gatherer  prometheus.Gatherer
	Logger    *zap.Logger
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Scheduler scheduler.Status `json:"scheduler"`
	Targets   []commit.Outcome `json:"targets"`
}

// NewController returns a new controller.
func NewController(s SchedulerStatus, c CommitStatus, gatherer prometheus.Gatherer, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		Scheduler: s,
		Commits:   c,
		Gatherer:  gatherer,
		Logger:    logger,
	}
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() (*mux.Router, error) {
	r := mux.NewRouter()

	r.Handle("/health", http.HandlerFunc(c.HandleHealth)).Methods("GET")
	r.HandleFunc("/status", c.HandleStatus).Methods("GET")
	if c.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(c.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	return r, nil
}

func (c *Controller) HandleHealth(w http.ResponseWriter, r *http.Request) {
	state := c.Scheduler.Status().State
	if state == scheduler.Cancelled {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopping", "state": state.String()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": state.String()})
}

// HandleStatus reports the scheduler state and the last commit outcome of
// every target.
func (c *Controller) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Scheduler: c.Scheduler.Status(),
		Targets:   c.Commits.Status(),
	}
	if resp.Targets == nil {
		resp.Targets = []commit.Outcome{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
