//go:build embed

// Package frontend serves the analysis dashboard. Built with the embed tag
// the compiled bundle under static/ ships inside the binary; without it the
// server falls back to the filesystem (see noembed.go).
package frontend

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var dashboardFS embed.FS

func Handler() http.Handler {
	sub, err := fs.Sub(dashboardFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}
