package server

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"sort"
	"time"

	comms "github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/nav-dispatch/pkg/registry"
	"github.com/morezero/nav-dispatch/pkg/scanner"
)

const httpLogPrefix = "server:http"

// HealthChecks lists the individual dependency checks.
type HealthChecks struct {
	Comms bool `json:"comms"`
	// Database is nil when no database is configured.
	Database *bool `json:"database,omitempty"`
}

// HealthOutput is the /health response.
type HealthOutput struct {
	Status         string       `json:"status"`
	Timestamp      string       `json:"timestamp"`
	Routes         int          `json:"routes"`
	PendingResults int          `json:"pendingResults"`
	Checks         HealthChecks `json:"checks"`
}

// RoutesOutput is the /routes response.
type RoutesOutput struct {
	Routes  []registry.Descriptor `json:"routes"`
	Skipped []scanner.Skip        `json:"skipped,omitempty"`
}

// Handler returns the HTTP mux: home page, health, readiness, routes and metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome())
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/routes", s.handleRoutes)
	mux.Handle("/metrics", promhttp.HandlerFor(s.prom, promhttp.HandlerOpts{}))
	return mux
}

// Health checks NATS and, when configured, the database.
func (s *Server) Health(ctx context.Context) *HealthOutput {
	h := &HealthOutput{
		Status:         "healthy",
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		Routes:         s.disp.Registry().Len(),
		PendingResults: s.disp.Correlator().Pending(),
	}
	h.Checks.Comms = s.nc != nil && s.nc.Status() == comms.CONNECTED
	if !h.Checks.Comms {
		h.Status = "unhealthy"
	}
	if s.pool != nil {
		ok := s.pool.Ping(ctx) == nil
		h.Checks.Database = &ok
		if !ok {
			h.Status = "unhealthy"
		}
	}
	return h
}

func (s *Server) routes() *RoutesOutput {
	snap := s.disp.AllRoutes()
	out := &RoutesOutput{Routes: make([]registry.Descriptor, 0, len(snap))}
	for _, d := range snap {
		out.Routes = append(out.Routes, d)
	}
	sort.Slice(out.Routes, func(i, j int) bool { return out.Routes[i].Path < out.Routes[j].Path })
	if s.report != nil {
		out.Skipped = s.report.Skipped
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
	defer cancel()
	h := s.Health(ctx)
	w.Header().Set("Content-Type", "application/json")
	if h.Status != "healthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, h)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !s.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		writeJSON(w, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, map[string]string{"status": "ready"})
}

func (s *Server) handleRoutes(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, s.routes())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error(fmt.Sprintf("%s - json encode: %v", httpLogPrefix, err))
	}
}

// homePageTemplate is the HTML for the home page (white bg, black/blue text).
const homePageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Navigation Dispatch</title>
  <style>
    * { box-sizing: border-box; }
    body { background: #fff; color: #000; font-family: system-ui, sans-serif; margin: 0; padding: 2rem; line-height: 1.5; }
    h1, h2 { color: #0066cc; }
    .status-healthy { color: #0066cc; font-weight: bold; }
    .status-unhealthy { color: #cc0000; font-weight: bold; }
    table { border-collapse: collapse; width: 100%; max-width: 900px; margin-top: 0.5rem; }
    th, td { text-align: left; padding: 0.5rem 0.75rem; border: 1px solid #ccc; }
    th { background: #f0f4f8; color: #0066cc; }
    .stat { font-weight: bold; color: #0066cc; }
    .meta { color: #333; font-size: 0.9rem; margin-top: 1rem; }
    section { margin-bottom: 2rem; }
    .error { color: #cc0000; }
  </style>
</head>
<body>
  <h1>Navigation Dispatch</h1>
  <p class="meta">Dispatcher health and route table.</p>

  <section>
    <h2>Health</h2>
    <p>Status: <span class="status-{{.Health.Status}}">{{.Health.Status}}</span></p>
    <p>COMMS: {{if .Health.Checks.Comms}}<span class="stat">OK</span>{{else}}<span class="error">Disconnected</span>{{end}}</p>
    <p>Pending results: <span class="stat">{{.Health.PendingResults}}</span></p>
    <p>Timestamp: {{.Health.Timestamp}}</p>
  </section>

  <section>
    <h2>Routes</h2>
    {{if not .Routes.Routes}}
    <p>No routes registered.</p>
    {{else}}
    <table>
      <thead>
        <tr><th>Path</th><th>Handler</th><th>Auth</th><th>Capabilities</th><th>Middleware</th></tr>
      </thead>
      <tbody>
        {{range .Routes.Routes}}
        <tr>
          <td>{{.Path}}</td>
          <td>{{.HandlerID}}</td>
          <td>{{if .RequiresAuth}}yes{{end}}</td>
          <td>{{range .RequiredCapabilities}}{{.}} {{end}}</td>
          <td>{{range .MiddlewareIDs}}{{.}} {{end}}</td>
        </tr>
        {{end}}
      </tbody>
    </table>
    {{end}}
    {{if .Routes.Skipped}}
    <h2>Skipped</h2>
    <ul>
      {{range .Routes.Skipped}}<li class="error">{{.Manifest}}: {{.HandlerID}} ({{.Path}}): {{.Reason}}</li>{{end}}
    </ul>
    {{end}}
  </section>
</body>
</html>
`

type homeData struct {
	Health *HealthOutput
	Routes *RoutesOutput
}

func (s *Server) handleHome() http.HandlerFunc {
	tmpl := template.Must(template.New("home").Parse(homePageTemplate))
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthCheckTimeout)
		defer cancel()

		data := homeData{Health: s.Health(ctx), Routes: s.routes()}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := tmpl.Execute(w, data); err != nil {
			slog.Error(fmt.Sprintf("%s - home template execute: %v", httpLogPrefix, err))
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
	}
}
