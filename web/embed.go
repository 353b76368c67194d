// Package web embeds the portfolio pages (dist/) that the assistant's
// answers link to and serves them next to the chat API.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// SiteHandler returns an http.Handler that serves the embedded pages.
// Extensionless paths resolve to their .html page ("/about" serves
// about.html) and unknown paths fall back to index.html.
func SiteHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" || name == "." {
			fileServer.ServeHTTP(w, r)
			return
		}

		if exists(subFS, name) {
			fileServer.ServeHTTP(w, r)
			return
		}
		if path.Ext(name) == "" && exists(subFS, name+".html") {
			r.URL.Path = "/" + name + ".html"
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

func exists(fsys fs.FS, name string) bool {
	f, err := fsys.Open(name)
	if err != nil {
		return false
	}
	if closeErr := f.Close(); closeErr != nil {
		slog.Debug("web: failed to close embedded file", "path", name, "error", closeErr)
	}
	return true
}
