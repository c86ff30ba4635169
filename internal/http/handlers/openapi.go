package handlers

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"html/template"
	"net/http"
)

//go:embed openapi.json
var openAPIDocument []byte

// OpenAPIPath is where the embedded document is served; the docs page loads it.
const OpenAPIPath = "/v1/openapi.json"

var (
	openAPIETag  = documentETag(openAPIDocument)
	docsTemplate = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}} {{.Version}}</title>
<style>body{margin:0}redoc{display:block;height:100vh}</style>
</head>
<body>
<redoc spec-url="{{.SpecURL}}"></redoc>
<script src="https://cdn.jsdelivr.net/npm/redoc@2.2.0/bundles/redoc.standalone.js"></script>
</body>
</html>
`))
)

type docsPage struct {
	Title   string
	Version string
	SpecURL string
}

func documentETag(doc []byte) string {
	sum := sha256.Sum256(doc)
	return `"` + hex.EncodeToString(sum[:8]) + `"`
}

// OpenAPIJSON serves the embedded document. Clients revalidating with the
// current ETag get 304.
func (a *App) OpenAPIJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", openAPIETag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Header.Get("If-None-Match") == openAPIETag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openAPIDocument)
}

// OpenAPIDocs renders a Redoc page titled after the document's info block.
func (a *App) OpenAPIDocs(w http.ResponseWriter, _ *http.Request) {
	var doc struct {
		Info struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
	}
	if err := json.Unmarshal(openAPIDocument, &doc); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: embedded openapi document is invalid")
		a.error(w, http.StatusInternalServerError, "internal", "api documentation unavailable")
		return
	}

	var buf bytes.Buffer
	page := docsPage{Title: doc.Info.Title, Version: doc.Info.Version, SpecURL: OpenAPIPath}
	if err := docsTemplate.Execute(&buf, page); err != nil {
		a.Logger.Error().Err(err).Msg("handlers: render docs page")
		a.error(w, http.StatusInternalServerError, "internal", "api documentation unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
