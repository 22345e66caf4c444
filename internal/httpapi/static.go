package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

// The dashboard UI is compiled into the binary so a single executable
// serves both the API and the page that drives it.

//go:embed static/*
var dashboardAssets embed.FS

// newStaticHandler serves the embedded dashboard files under /ui/.
func newStaticHandler() http.Handler {
	sub, err := fs.Sub(dashboardAssets, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	return http.FileServer(http.FS(sub))
}
