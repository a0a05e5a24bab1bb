package daemon

import (
	"encoding/json"
	"net/http"
	"time"

	"git.home.luguber.info/inful/imagebuilder/internal/logfields"
	"git.home.luguber.info/inful/imagebuilder/internal/metrics"
)

// Status is the JSON document served on /healthz.
type Status struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Running   bool      `json:"running"`
	Runs      int64     `json:"runs"`
	LastRun   *LastRun  `json:"last_run,omitempty"`
}

// LastRun summarizes the most recent completed run.
type LastRun struct {
	RunID    string    `json:"run_id,omitempty"`
	Trigger  string    `json:"trigger"`
	Finished time.Time `json:"finished"`
	Outcome  string    `json:"outcome"`
	Summary  string    `json:"summary,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Handler returns the daemon's HTTP routes: /metrics and /healthz.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.HTTPHandler(d.registry))
	mux.HandleFunc("GET /healthz", d.handleHealth)
	return mux
}

// CurrentStatus reports the daemon state. A daemon whose last run could not start is
// "degraded"; failed entries alone do not degrade it.
func (d *Daemon) CurrentStatus() Status {
	st := Status{Status: "healthy", StartedAt: d.startedAt, Running: d.running.Load(), Runs: d.Runs()}
	last := d.last.Load()
	if last == nil {
		return st
	}
	lr := &LastRun{Trigger: last.Reason, Finished: last.Finished}
	if last.Err != nil {
		lr.Error = last.Err.Error()
	}
	if last.Report == nil {
		st.Status = "degraded"
		lr.Outcome = string(metrics.OutcomeError)
	} else {
		lr.RunID = last.Report.RunID
		lr.Outcome = string(last.Report.Outcome)
		lr.Summary = last.Report.Summary()
	}
	st.LastRun = lr
	return st
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := d.CurrentStatus()
	w.Header().Set("Content-Type", "application/json")
	if st.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(st); err != nil {
		d.logger.Warn("Failed to encode health status", logfields.Error(err))
	}
}
