package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mosaicnetworks/hubnet/src/common"
	"github.com/mosaicnetworks/hubnet/src/config"
	"github.com/mosaicnetworks/hubnet/src/net"
	"github.com/mosaicnetworks/hubnet/src/node"
	"github.com/mosaicnetworks/hubnet/src/store"
	"github.com/sirupsen/logrus"
)

func initService(t *testing.T) *Service {
	conf := config.NewTestConfig(t, logrus.InfoLevel)
	conf.Hub = true
	conf.DataDir = t.TempDir()

	_, trans := net.NewInmemTransport("")
	st := store.NewInmemStore()
	identity, err := node.LoadIdentity(st, nil, "service")
	if err != nil {
		t.Fatal(err)
	}

	n := node.NewNode(conf, identity, st, trans)
	if err := n.Init(); err != nil {
		t.Fatal(err)
	}
	n.RunAsync()
	t.Cleanup(n.Shutdown)

	return NewService("", n, common.NewTestEntry(t, logrus.InfoLevel, "service"))
}

func get(t *testing.T, s *Service, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("%s returned %d", path, rec.Code)
	}
	return rec
}

func TestStats(t *testing.T) {
	s := initService(t)

	rec := get(t, s, "/stats")
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("CORS header missing")
	}

	var stats map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats["mode"] != "Hub" {
		t.Fatalf("mode should be Hub, not %s", stats["mode"])
	}
	if stats["moniker"] != "service" {
		t.Fatalf("moniker should be service, not %s", stats["moniker"])
	}
}

func TestHubsAndConnections(t *testing.T) {
	s := initService(t)

	var hubs map[string][]interface{}
	if err := json.NewDecoder(get(t, s, "/hubs").Body).Decode(&hubs); err != nil {
		t.Fatal(err)
	}
	if len(hubs["connected"]) != 0 || len(hubs["known"]) != 0 {
		t.Fatal("a lone hub knows no hubs")
	}

	var conns []node.ConnectionInfo
	if err := json.NewDecoder(get(t, s, "/connections").Body).Decode(&conns); err != nil {
		t.Fatal(err)
	}
	if len(conns) != 0 {
		t.Fatalf("a lone hub has no connections, got %d", len(conns))
	}

	get(t, s, "/graph")
}

func TestMetrics(t *testing.T) {
	s := initService(t)

	body := get(t, s, "/metrics").Body.String()
	if !strings.Contains(body, "hubnet_persistent_hubs") {
		t.Fatalf("metrics should include hubnet_persistent_hubs:\n%s", body)
	}
}
