package web

import (
	"encoding/json"
	"html/template"
	"net/http"

	"buildmedic/internal/db"
)

// DashboardData feeds the run list page.
type DashboardData struct {
	Runs []db.Run
}

// RunData feeds the single-run page.
type RunData struct {
	Run        *db.Run
	Iterations []db.Iteration
	Skips      []db.Skip
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	runs, err := s.db.ListRuns(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.render(w, s.dashboardTmpl, DashboardData{Runs: runs})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	runID := runIDFromPath(r.URL.Path)
	if runID == "" {
		http.NotFound(w, r)
		return
	}

	run, err := s.findRun(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}

	iters, err := s.db.ListIterations(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	skips, err := s.db.ListSkips(runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.render(w, s.runTmpl, RunData{Run: run, Iterations: iters, Skips: skips})
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.db.ListRuns(50)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(runs)
}

func (s *Server) findRun(runID string) (*db.Run, error) {
	runs, err := s.db.ListRuns(200)
	if err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].RunID == runID {
			return &runs[i], nil
		}
	}
	return nil, nil
}

func (s *Server) render(w http.ResponseWriter, tmpl *template.Template, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
