package bfchat

import "embed"

// TemplateFS contains the embedded HTML templates used for rendering the transcript page. These templates
// are organized in a directory structure that separates layouts, pages, and partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded static assets, such as the stylesheet, served under /static/.
//
//go:embed static/*
var StaticFS embed.FS
