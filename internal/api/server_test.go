package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/lumad/internal/config"
	"github.com/bryanchriswhite/lumad/internal/controller"
	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) (*httptest.Server, *controller.Recorder) {
	t.Helper()
	mgr, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	rec := controller.NewRecorder()
	srv := httptest.NewServer(NewServer(rec, mgr).Handler())
	t.Cleanup(srv.Close)
	return srv, rec
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]string
	if code := getJSON(t, srv.URL+"/api/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "healthy" || body["version"] != Version {
		t.Errorf("body = %v", body)
	}
}

func TestOutputs(t *testing.T) {
	srv, rec := newTestServer(t)
	rec.Adjust("eDP-1", 42)
	rec.Adjust("DP-2", 7)

	var all []controller.Reading
	if code := getJSON(t, srv.URL+"/api/outputs", &all); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(all) != 2 || all[0].Output != "DP-2" || all[1].Luma != 42 {
		t.Errorf("outputs = %+v", all)
	}

	var one controller.Reading
	if code := getJSON(t, srv.URL+"/api/outputs/eDP-1", &one); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if one.Output != "eDP-1" || one.Luma != 42 {
		t.Errorf("reading = %+v", one)
	}

	if code := getJSON(t, srv.URL+"/api/outputs/HDMI-A-1", nil); code != http.StatusNotFound {
		t.Errorf("unknown output status = %d, want 404", code)
	}
}

func TestConfig(t *testing.T) {
	srv, _ := newTestServer(t)

	var cfg config.Config
	if code := getJSON(t, srv.URL+"/api/config", &cfg); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if cfg.Processor != config.ProcessorVulkan || cfg.GPU.FinalMipLevels != 4 {
		t.Errorf("config = %+v", cfg)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/outputs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight status=%d headers=%v", resp.StatusCode, resp.Header)
	}
}

func TestStream(t *testing.T) {
	srv, rec := newTestServer(t)
	rec.Adjust("eDP-1", 10)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var first controller.Reading
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial reading: %v", err)
	}
	if first.Output != "eDP-1" || first.Luma != 10 {
		t.Errorf("initial reading = %+v", first)
	}

	// the subscription exists once the initial readings were sent
	rec.Adjust("eDP-1", 64)

	var next controller.Reading
	if err := conn.ReadJSON(&next); err != nil {
		t.Fatalf("read streamed reading: %v", err)
	}
	if next.Luma != 64 {
		t.Errorf("streamed reading = %+v, want luma 64", next)
	}
}
