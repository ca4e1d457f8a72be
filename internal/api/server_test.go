package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bryanchriswhite/IrisStreamer/internal/calculators"
	"github.com/bryanchriswhite/IrisStreamer/internal/capture"
	"github.com/bryanchriswhite/IrisStreamer/internal/config"
	"github.com/bryanchriswhite/IrisStreamer/internal/graph"
	"github.com/bryanchriswhite/IrisStreamer/internal/output"
	"github.com/bryanchriswhite/IrisStreamer/internal/pipeline"
)

func newConfigManager(t *testing.T) *config.Manager {
	t.Helper()
	m, err := config.NewManager(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func startedPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	src := capture.NewSyntheticSource(320, 240, 0, 0)
	p, err := pipeline.New(config.Defaults(), calculators.Default(), pipeline.WithSource(src))
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = p.Stop() })

	img := src.Render(src.SceneAt(0))
	if err := p.Runner().PushFrame(graph.NewFrame(img, 1)); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestHealthAndCORS(t *testing.T) {
	h := NewServer(newConfigManager(t), nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health returned %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" || body["version"] != Version {
		t.Fatalf("unexpected health body %v", body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}

	rec = do(t, h, http.MethodOptions, "/api/config", "")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("preflight returned %d %q", rec.Code, rec.Body.String())
	}
}

func TestWithoutPipeline(t *testing.T) {
	h := NewServer(newConfigManager(t), nil).Handler()

	if rec := do(t, h, http.MethodGet, "/api/status", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status returned %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/stream", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("stream returned %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/api/depth/latest", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("depth returned %d", rec.Code)
	}
}

func TestStatusGraphAndDepth(t *testing.T) {
	p := startedPipeline(t)
	h := NewServer(newConfigManager(t), p).Handler()

	rec := do(t, h, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status returned %d", rec.Code)
	}
	var st pipeline.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Source != "synthetic" || st.Graph.State != "running" || st.Graph.FramesPushed != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.FocalOrigin != pipeline.FocalFromSource || st.MJPEGStream != "output_video" {
		t.Fatalf("unexpected status %+v", st)
	}

	rec = do(t, h, http.MethodGet, "/api/graph", "")
	var info GraphInfo
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	want := []string{"transform", "iris_landmarks", "iris_depth", "renderer"}
	if strings.Join(info.Order, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected order %v", info.Order)
	}
	if len(info.SidePackets) != 1 || info.SidePackets[0] != calculators.FocalLengthSidePacket {
		t.Fatalf("unexpected side packets %v", info.SidePackets)
	}

	rec = do(t, h, http.MethodGet, "/api/depth/latest", "")
	var latest []output.Message
	if err := json.NewDecoder(rec.Body).Decode(&latest); err != nil {
		t.Fatal(err)
	}
	seen := map[string]bool{}
	for _, m := range latest {
		seen[m.Stream] = true
		if m.Timestamp != 1 {
			t.Fatalf("unexpected timestamp in %+v", m)
		}
	}
	if !seen["left_iris_depth_mm"] || !seen["right_iris_depth_mm"] {
		t.Fatalf("depth values missing: %+v", latest)
	}

	rec = do(t, h, http.MethodGet, "/view", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "IrisStreamer") {
		t.Fatalf("viewer returned %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/stats", "")
	if !strings.Contains(rec.Body.String(), "Running") {
		t.Fatal("stats page does not show a running stream")
	}
}

func TestConfigEndpoints(t *testing.T) {
	mgr := newConfigManager(t)
	h := NewServer(mgr, nil).Handler()

	rec := do(t, h, http.MethodGet, "/api/config", "")
	var cfg config.Config
	if err := json.NewDecoder(rec.Body).Decode(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.ServerPort != 8080 {
		t.Fatalf("unexpected config %+v", cfg)
	}

	rec = do(t, h, http.MethodPut, "/api/config/side_packets/focal_length_pixel", `{"value": 4.2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set side packet returned %d: %s", rec.Code, rec.Body.String())
	}
	if mgr.Get().SidePackets["focal_length_pixel"] != 4.2 {
		t.Fatal("side packet not stored")
	}
	if rec := do(t, h, http.MethodPut, "/api/config/side_packets/x", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing value returned %d", rec.Code)
	}

	rec = do(t, h, http.MethodPut, "/api/config", `{"server_port": 9191}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update returned %d: %s", rec.Code, rec.Body.String())
	}
	if got := mgr.Get(); got.ServerPort != 9191 || got.SidePackets["focal_length_pixel"] != 4.2 {
		t.Fatalf("partial update lost values: %+v", got)
	}

	if rec := do(t, h, http.MethodPut, "/api/config", `{"source": {"fps": 0}}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid update returned %d", rec.Code)
	}
	if mgr.Get().Source.FPS != 15 {
		t.Fatal("invalid update was applied")
	}
}

func TestUnknownRoutes(t *testing.T) {
	h := NewServer(newConfigManager(t), nil).Handler()
	rec := do(t, h, http.MethodGet, "/api/nope", "")
	if rec.Code != http.StatusNotFound || !strings.Contains(rec.Body.String(), "no route") {
		t.Fatalf("unexpected api 404: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodGet, "/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected 404: %d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/api/status") {
		t.Fatalf("index returned %d", rec.Code)
	}
}
