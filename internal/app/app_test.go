package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/tobfel/stagecue/internal/config"
	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/observe"
)

const appSheetYAML = `sheet:
  name: Mira
  speaker_id: mira
sounds:
  - id: snd-golpe
    active: true
    keywords:
      - golpe
    files:
      - url: hit.ogg
`

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) *App {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	a, err := New(context.Background(), cfg, append(opts, WithMetrics(metrics))...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestApp_HealthEndpoints(t *testing.T) {
	t.Parallel()

	store := cuesheet.NewMemStore()
	a := newTestApp(t, &config.Config{}, WithStore(store))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d", resp.StatusCode)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode readyz body: %v", err)
	}
	if body.Status != "ok" || body.Checks["sheets"] != "ok" {
		t.Errorf("readyz body = %+v", body)
	}
}

func TestApp_MetricsEndpoint(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, &config.Config{}, WithStore(cuesheet.NewMemStore()))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestApp_ImportsSheetFiles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "mira.yaml")
	if err := os.WriteFile(path, []byte(appSheetYAML), 0o600); err != nil {
		t.Fatalf("write sheet file: %v", err)
	}

	cfg := &config.Config{}
	cfg.Sheets.Paths = []string{path}
	a := newTestApp(t, cfg)

	sheet, err := a.Store().GetBySpeaker(context.Background(), "mira")
	if err != nil {
		t.Fatalf("GetBySpeaker: %v", err)
	}
	if sheet.Meta.Name != "Mira" || len(sheet.Sounds) != 1 {
		t.Errorf("imported sheet = %+v", sheet)
	}
}

func TestApp_BadSheetPathFailsNew(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.Sheets.Paths = []string{filepath.Join(t.TempDir(), "missing.yaml")}
	if _, err := New(context.Background(), cfg, WithStore(cuesheet.NewMemStore())); err == nil {
		t.Fatal("expected New to fail for a missing sheet file")
	}
}

func TestApp_StreamEndpointWired(t *testing.T) {
	t.Parallel()

	store := cuesheet.NewMemStore()
	if _, err := store.Add(context.Background(), *testSheet()); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	a := newTestApp(t, &config.Config{}, WithStore(store))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	// A plain GET without an upgrade handshake is rejected by the socket
	// handler, which proves the route is wired.
	resp, err := http.Get(srv.URL + "/v1/stream")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		t.Error("stream route not registered")
	}
}

func TestEngineOptions(t *testing.T) {
	t.Parallel()

	ec := config.EngineConfig{
		MaxSoundsPerMessage:  2,
		GlobalSoundCooldown:  time.Second,
		BackgroundIdleRevert: time.Minute,
		Fuzzy:                config.FuzzyConfig{Enabled: true, Threshold: 0.9},
	}
	if got := len(engineOptions(ec)); got != 5 {
		t.Errorf("option count = %d, want 5", got)
	}

	// Zero values fall back to engine defaults instead of overriding them.
	if got := len(engineOptions(config.EngineConfig{})); got != 1 {
		t.Errorf("default option count = %d, want 1", got)
	}
}

func TestApp_ShutdownIdempotent(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, &config.Config{}, WithStore(cuesheet.NewMemStore()))
	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}
