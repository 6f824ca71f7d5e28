package serve

import (
	"encoding/json"
	"net/http"

	"siteguard/pipeline"
)

// StatusProvider reports the state of the streaming pipeline.
type StatusProvider interface {
	Status() pipeline.Status
}

func currentStatus(p StatusProvider) pipeline.Status {
	if p == nil {
		return pipeline.Status{Status: "not initialized"}
	}
	return p.Status()
}

// StatusServer serves the pipeline status as JSON.
type StatusServer struct {
	Pipeline StatusProvider
}

func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	js, err := json.Marshal(currentStatus(s.Pipeline))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(js)
}
