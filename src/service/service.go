package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/mosaicnetworks/hubnet/src/node"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Service exposes the state of a node over HTTP.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	graph       *node.Graph
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		graph:       node.NewGraph(n),
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

// registerHandlers registers the API handlers on the service's own mux, so
// that several nodes can serve from the same process.
func (s *Service) registerHandlers() {
	s.logger.Debug("Registering hubnet API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/hubs", s.makeHandler(s.GetHubs))
	s.mux.HandleFunc("/connections", s.makeHandler(s.GetConnections))
	s.mux.HandleFunc("/graph", s.makeHandler(s.GetGraph))
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.node.Metrics().Registry, promhttp.HandlerOpts{}))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the mux serving the API, for embedding in another server.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving hubnet API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetStats())
}

// GetHubs returns the connected and known hubs.
func (s *Service) GetHubs(w http.ResponseWriter, r *http.Request) {
	khl := s.node.KnownHubs()
	writeJSON(w, map[string]interface{}{
		"connected": khl.ConnectedHubs(),
		"known":     khl.KnownHubs(),
	})
}

// GetConnections returns every link with its statistics.
func (s *Service) GetConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.graph.GetConnections())
}

// GetGraph ...
func (s *Service) GetGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.graph.GetInfos())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)

	encoder.Encode(v)
}
