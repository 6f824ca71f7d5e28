package serve

import (
	"html/template"
	"net/http"

	log "github.com/sirupsen/logrus"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p><a href="/status">Status</a> &middot; <a href="/metrics">Metrics</a></p>
{{range .Streams}}
<h2>Stream {{.}}</h2>
<p><a href="/video_feed/{{.}}">Live feed</a> &middot; <a href="/snapshot/{{.}}">Snapshot</a></p>
<img src="/video_feed/{{.}}" alt="stream {{.}}">
{{end}}
</body>
</html>
`))

// IndexServer renders a page linking every stream.
type IndexServer struct {
	Title   string
	Streams int
}

func (s *IndexServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	ids := make([]int, s.Streams)
	for i := range ids {
		ids[i] = i
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(w, struct {
		Title   string
		Streams []int
	}{s.Title, ids})
	if err != nil {
		log.Errorf("Failed to render index: %v", err)
	}
}
