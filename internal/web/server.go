package web

import (
	"embed"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os/exec"
	"runtime"
	"strings"

	"stratplan/internal/db"
)

//go:embed static
var staticFiles embed.FS

type Server struct {
	db   *db.DB
	addr string
}

func NewServer(database *db.DB, addr string) *Server {
	return &Server{
		db:   database,
		addr: addr,
	}
}

func (s *Server) Start(openBrowser bool) error {
	mux := http.NewServeMux()

	appFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("failed to load static files: %w", err)
	}
	mux.Handle("/", indexFileServer(appFS))

	mux.HandleFunc("/api/designs", s.handleDesigns)
	mux.HandleFunc("/api/designs/", s.routeDesignsAPI)
	mux.HandleFunc("/api/plans", s.handlePlans)
	mux.HandleFunc("/api/plans/", s.handlePlan)
	mux.HandleFunc("/api/compare", s.handleCompare)
	mux.HandleFunc("/api/methods", s.handleMethods)
	mux.HandleFunc("/api/database/download", s.handleDatabaseDownload)

	if openBrowser {
		url := fmt.Sprintf("http://localhost%s", s.addr)
		go openURL(url)
	}

	fmt.Printf("Starting server at http://localhost%s\n", s.addr)
	return http.ListenAndServe(s.addr, mux)
}

func openURL(url string) {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	}
	if cmd != nil {
		_ = cmd.Start()
	}
}

func indexFileServer(appFS fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(appFS))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")

		// Serve the file directly if it exists and is not a directory
		if path != "" {
			info, err := fs.Stat(appFS, path)
			if err == nil && !info.IsDir() {
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		// Everything else falls back to index.html. Serve the content
		// manually to avoid http.FileServer's redirect loop when it
		// sees a request for "/index.html".
		f, err := appFS.Open("index.html")
		if err != nil {
			http.Error(w, "index.html missing", http.StatusInternalServerError)
			return
		}
		defer func() { _ = f.Close() }()

		stat, err := f.Stat()
		if err != nil {
			http.Error(w, "index.html stat failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

		if rs, ok := f.(io.ReadSeeker); ok {
			http.ServeContent(w, r, "index.html", stat.ModTime(), rs)
		} else {
			http.Error(w, "internal error: file not seekable", http.StatusInternalServerError)
		}
	})
}

func (s *Server) routeDesignsAPI(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case strings.HasSuffix(path, "/plan"):
		s.handleDesignPlan(w, r)
	default:
		s.handleDesign(w, r)
	}
}
