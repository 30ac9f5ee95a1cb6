// Package web holds the dashboard page and its stylesheet.
package web

import "embed"

// TemplatesFS holds index.html, parsed once by the HTTP server.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

//go:embed static/*
var StaticFS embed.FS
