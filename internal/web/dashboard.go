package web

import (
	_ "embed"
	"net/http"
	"os"
	"path/filepath"
)

//go:embed dashboard.html
var dashboardHTML []byte

// ServeDashboard serves the dashboard page. An on-disk web/dashboard.html
// overrides the embedded copy.
func ServeDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	dashboardPath := filepath.Join("web", "dashboard.html")
	if _, err := os.Stat(dashboardPath); err == nil {
		http.ServeFile(w, r, dashboardPath)
		return
	}

	w.Write(dashboardHTML)
}
