package web

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"buildmedic/internal/db"
)

var funcMap = template.FuncMap{
	"badgeClass": func(outcome string) string {
		if outcome == "" {
			outcome = "running"
		}
		return "badge badge-" + outcome
	},
	"shortSig": func(sig string) string {
		if len(sig) > 12 {
			return sig[:12]
		}
		return sig
	},
	"relTime": relTime,
}

// Server is the read-only run-history web UI.
type Server struct {
	db   *db.DB
	port int

	dashboardTmpl *template.Template
	runTmpl       *template.Template
}

// NewServer creates a Server with parsed templates.
func NewServer(database *db.DB, port int) *Server {
	return &Server{
		db:            database,
		port:          port,
		dashboardTmpl: mustParseTmpl(dashboardHTML),
		runTmpl:       mustParseTmpl(runHTML),
	}
}

func mustParseTmpl(body string) *template.Template {
	return template.Must(template.New("page").Funcs(funcMap).Parse(baseHTML + body))
}

// Start blocks serving HTTP until the listener fails.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleDashboard)
	mux.HandleFunc("/runs/", s.handleRun)
	mux.HandleFunc("/api/runs", s.handleAPIRuns)

	srv := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return srv.ListenAndServe()
}

// runIDFromPath extracts the run ID from /runs/<id> paths.
func runIDFromPath(path string) string {
	rest := strings.TrimPrefix(path, "/runs/")
	if rest == path || rest == "" || strings.Contains(rest, "/") {
		return ""
	}
	return rest
}

// relTime renders an SQLite timestamp as a human-friendly relative time.
func relTime(ts string) string {
	t, err := time.Parse("2006-01-02 15:04:05", ts)
	if err != nil {
		return ts
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
