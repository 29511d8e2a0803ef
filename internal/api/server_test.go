package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MIRChain/mir-control-center/internal/audit"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/config"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/database"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/logging"
	"github.com/MIRChain/mir-control-center/internal/plugin"
	"github.com/MIRChain/mir-control-center/internal/prompt"
	"github.com/MIRChain/mir-control-center/internal/release"
	_ "github.com/MIRChain/mir-control-center/migrations"
)

type testEnv struct {
	srv      *Server
	registry *plugin.Registry
	audit    audit.Repository
	db       *database.DB
	metrics  *fakeRPCMetrics
	approve  bool
}

type fakeRPCMetrics struct {
	mu    sync.Mutex
	calls []string
}

func (m *fakeRPCMetrics) WriteRPCCall(plugin, method string, _ time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, fmt.Sprintf("%s/%s/%v", plugin, method, ok))
}

func (m *fakeRPCMetrics) snapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
}

func testWSConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		Path:           "/api/v1/ws",
		MaxMessageSize: 8192,
		PingInterval:   30,
		PongTimeout:    10,
	}
}

// testServer builds a Server with one plugin "mir" backed by a GitHub API
// that has no releases, an in-memory audit trail and a prompter that
// follows env.approve.
func testServer(t *testing.T) *testEnv {
	t.Helper()

	gh := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	t.Cleanup(gh.Close)

	db, err := database.Open(context.Background(), database.Config{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("database.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	repo := audit.NewSQLiteRepository(db.DB)

	env := &testEnv{audit: repo, db: db, metrics: &fakeRPCMetrics{}}
	log := testLogger()
	env.registry = plugin.NewRegistry(plugin.Options{
		CacheRoot:   t.TempDir(),
		GitHub:      []release.GitHubOption{release.WithAPIURL(gh.URL)},
		Audit:       audit.NewRecorder(repo, "api"),
		Logger:      log,
		StopTimeout: 2 * time.Second,
		Prompter: prompt.Func(func(context.Context, prompt.Request) (bool, error) {
			return env.approve, nil
		}),
	})
	if _, err := env.registry.Register(plugin.Descriptor{
		Name:        "mir",
		Repository:  "MIRChain/MIR",
		DisplayName: "MIR Node",
		IPCResolver: "mir",
		Env:         helperEnv,
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	t.Cleanup(func() { _ = env.registry.StopAll(context.Background()) })

	srv, err := New(Deps{
		Config: config.APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS:       testWSConfig(),
		Logger:   log,
		Registry: env.registry,
		Audit:    repo,
		DB:       db,
		Metrics:  env.metrics,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	env.srv = srv
	return env
}

// startServer binds the server to a free loopback port.
func startServer(t *testing.T, env *testEnv) string {
	t.Helper()
	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = env.srv.Close() })
	return env.srv.Addr()
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", w.Body.String(), err)
	}
	return v
}

func helperRelease() release.Release {
	return release.Release{Name: "mir-helper", Version: "1.2.3", Location: os.Args[0], IsBinary: true}
}

// ─── Health and Middleware ─────────────────────────────────────────

func TestHealth(t *testing.T) {
	env := testServer(t)
	w := doRequest(t, env.srv.Handler(), http.MethodGet, "/api/v1/health", "")

	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	resp := decodeBody[map[string]any](t, w)
	if resp["status"] != "ok" {
		t.Errorf("status = %v, want ok", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["plugins"] != float64(1) {
		t.Errorf("plugins = %v, want 1", resp["plugins"])
	}
}

func TestRequestID_Generated(t *testing.T) {
	env := testServer(t)
	w := doRequest(t, env.srv.Handler(), http.MethodGet, "/api/v1/health", "")

	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header to be set")
	}
}

func TestRequestID_PreservesClient(t *testing.T) {
	env := testServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-123")
	w := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-123" {
		t.Errorf("X-Request-ID = %q, want %q", got, "client-123")
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{name: "loopback allowed by default", origin: "http://localhost:3000", want: "http://localhost:3000"},
		{name: "127.0.0.1 allowed by default", origin: "http://127.0.0.1:8080", want: "http://127.0.0.1:8080"},
		{name: "foreign origin rejected by default", origin: "https://evil.example", want: ""},
		{name: "lookalike host rejected", origin: "http://localhost.evil.example", want: ""},
		{name: "configured origin", allowed: []string{"https://wallet.example"}, origin: "https://wallet.example", want: "https://wallet.example"},
		{name: "configured list excludes loopback", allowed: []string{"https://wallet.example"}, origin: "http://localhost:3000", want: ""},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://any.example", want: "https://any.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testServer(t)
			env.srv.cfg.CORS.AllowedOrigins = tt.allowed

			req := httptest.NewRequest(http.MethodOptions, "/api/v1/health", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			env.srv.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Errorf("preflight status = %d, want %d", w.Code, http.StatusNoContent)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("ACAO = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	env := testServer(t)
	w := doRequest(t, env.srv.Handler(), http.MethodGet, "/api/v1/nonexistent", "")

	if w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestBodySizeLimit(t *testing.T) {
	env := testServer(t)
	body := `{"data":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	w := doRequest(t, env.srv.Handler(), http.MethodPost, "/api/v1/plugins/mir/write", body)

	if w.Code != http.StatusBadRequest {
		t.Errorf("oversized body status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// ─── Plugin Endpoints ──────────────────────────────────────────────

func TestListPlugins(t *testing.T) {
	env := testServer(t)
	w := doRequest(t, env.srv.Handler(), http.MethodGet, "/api/v1/plugins", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeBody[struct {
		Plugins []plugin.Info `json:"plugins"`
		Count   int           `json:"count"`
	}](t, w)

	if resp.Count != 1 || len(resp.Plugins) != 1 {
		t.Fatalf("count = %d (%d plugins), want 1", resp.Count, len(resp.Plugins))
	}
	got := resp.Plugins[0]
	if got.Name != "mir" {
		t.Errorf("name = %q, want mir", got.Name)
	}
	if got.DisplayName != "MIR Node" {
		t.Errorf("displayName = %q, want MIR Node", got.DisplayName)
	}
	if got.State != "STOPPED" {
		t.Errorf("state = %q, want STOPPED", got.State)
	}
	if got.IsRunning {
		t.Error("isRunning = true, want false")
	}
}

func TestGetPlugin(t *testing.T) {
	env := testServer(t)
	h := env.srv.Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/plugins/mir", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if info := decodeBody[plugin.Info](t, w); info.Name != "mir" {
		t.Errorf("name = %q, want mir", info.Name)
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/plugins/geth", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown plugin status = %d, want 404", w.Code)
	}
	if e := decodeBody[Error](t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotFound)
	}
}

func TestPluginStatsAndLogs_WhenStopped(t *testing.T) {
	env := testServer(t)
	h := env.srv.Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/plugins/mir/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", w.Code)
	}
	if stats := decodeBody[map[string]any](t, w); stats["state"] != "STOPPED" {
		t.Errorf("stats state = %v, want STOPPED", stats["state"])
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/plugins/mir/logs", "")
	logs := decodeBody[map[string]any](t, w)
	if logs["count"] != float64(0) {
		t.Errorf("log count = %v, want 0", logs["count"])
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/plugins/mir/logs?tail=-1", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative tail status = %d, want 400", w.Code)
	}
}

func TestPluginErrors(t *testing.T) {
	env := testServer(t)
	h := env.srv.Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/plugins/mir/errors", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if resp := decodeBody[map[string]any](t, w); resp["errors"] == nil {
		t.Error("errors should be an empty list, got null")
	}

	w = doRequest(t, h, http.MethodDelete, "/api/v1/plugins/mir/errors/unknown", "")
	if w.Code != http.StatusNoContent {
		t.Errorf("dismiss status = %d, want 204", w.Code)
	}
}

func TestListReleases(t *testing.T) {
	env := testServer(t)
	h := env.srv.Handler()

	for _, source := range []string{"", "?source=all", "?source=cached"} {
		w := doRequest(t, h, http.MethodGet, "/api/v1/plugins/mir/releases"+source, "")
		if w.Code != http.StatusOK {
			t.Fatalf("releases%s status = %d, want 200", source, w.Code)
		}
		resp := decodeBody[map[string]any](t, w)
		if resp["count"] != float64(0) {
			t.Errorf("releases%s count = %v, want 0", source, resp["count"])
		}
	}

	w := doRequest(t, h, http.MethodGet, "/api/v1/plugins/mir/releases?source=bogus", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus source status = %d, want 400", w.Code)
	}
}

func TestLatestRelease_None(t *testing.T) {
	env := testServer(t)
	h := env.srv.Handler()

	for _, path := range []string{"/api/v1/plugins/mir/releases/latest", "/api/v1/plugins/mir/releases/latest?cached=true"} {
		w := doRequest(t, h, http.MethodGet, path, "")
		if w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, w.Code)
		}
		if e := decodeBody[Error](t, w); e.Code != ErrCodeNoRelease {
			t.Errorf("%s code = %q, want %q", path, e.Code, ErrCodeNoRelease)
		}
	}
}

func TestCheckForUpdates_NoReleases(t *testing.T) {
	env := testServer(t)
	w := doRequest(t, env.srv.Handler(), http.MethodGet, "/api/v1/plugins/mir/updates", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if info := decodeBody[release.UpdateInfo](t, w); info.UpdateAvailable {
		t.Error("updateAvailable = true, want false")
	}
}

func TestSelectedRelease(t *testing.T) {
	env := testServer(t)
	h := env.srv.Handler()

	w := doRequest(t, h, http.MethodGet, "/api/v1/plugins/mir/selected-release", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("initial status = %d, want 404", w.Code)
	}

	w = doRequest(t, h, http.MethodPut, "/api/v1/plugins/mir/selected-release", `{"version":"1.0.0"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing location status = %d, want 400", w.Code)
	}

	body := `{"name":"mir-linux-amd64-1.2.3.tar.gz","version":"1.2.3","location":"/cache/mir-linux-amd64-1.2.3.tar.gz"}`
	w = doRequest(t, h, http.MethodPut, "/api/v1/plugins/mir/selected-release", body)
	if w.Code != http.StatusOK {
		t.Fatalf("set status = %d, want 200 (%s)", w.Code, w.Body.String())
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/plugins/mir/selected-release", "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", w.Code)
	}
	if rel := decodeBody[release.Release](t, w); rel.Version != "1.2.3" {
		t.Errorf("selected version = %q, want 1.2.3", rel.Version)
	}

	logs, err := env.audit.List(context.Background(), audit.Filter{Action: audit.ActionReleaseSelected})
	if err != nil {
		t.Fatalf("audit List: %v", err)
	}
	if logs.Total != 1 {
		t.Errorf("release_selected entries = %d, want 1", logs.Total)
	}
}

func TestDownloadRelease_Validation(t *testing.T) {
	env := testServer(t)
	h := env.srv.Handler()

	w := doRequest(t, h, http.MethodPost, "/api/v1/plugins/mir/releases/download", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid body status = %d, want 400", w.Code)
	}
	w = doRequest(t, h, http.MethodPost, "/api/v1/plugins/mir/releases/download", `{"version":"1.0.0"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing location status = %d, want 400", w.Code)
	}
}

func TestStartPlugin_NoRelease(t *testing.T) {
	env := testServer(t)
	w := doRequest(t, env.srv.Handler(), http.MethodPost, "/api/v1/plugins/mir/start", "")

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (%s)", w.Code, w.Body.String())
	}
	if e := decodeBody[Error](t, w); e.Code != ErrCodeNoRelease {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNoRelease)
	}

	logs, err := env.audit.List(context.Background(), audit.Filter{Action: audit.ActionStartFailed})
	if err != nil {
		t.Fatalf("audit List: %v", err)
	}
	if logs.Total != 1 {
		t.Errorf("start_failed entries = %d, want 1", logs.Total)
	}
}

func TestStartPlugin_InvalidBody(t *testing.T) {
	env := testServer(t)
	w := doRequest(t, env.srv.Handler(), http.MethodPost, "/api/v1/plugins/mir/start", `{"flags":`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRequestStart_Denied(t *testing.T) {
	env := testServer(t)
	h := env.srv.Handler()

	w := doRequest(t, h, http.MethodPost, "/api/v1/plugins/mir/request-start", `{"app":"wallet"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if info := decodeBody[plugin.Info](t, w); info.IsRunning {
		t.Error("denied start left the plugin running")
	}

	w = doRequest(t, h, http.MethodGet, "/api/v1/audit?plugin=mir", "")
	if w.Code != http.StatusOK {
		t.Fatalf("audit status = %d, want 200", w.Code)
	}
	result := decodeBody[audit.ListResult](t, w)
	got := make(map[string]bool)
	for _, l := range result.Logs {
		got[l.Action] = true
		if l.Source != "api" {
			t.Errorf("audit source = %q, want api", l.Source)
		}
	}
	for _, want := range []string{audit.ActionStartRequested, audit.ActionStartDenied} {
		if !got[want] {
			t.Errorf("audit trail missing %q: %+v", want, result.Logs)
		}
	}
	if got[audit.ActionStart] {
		t.Error("audit trail records a start after denial")
	}
}

func TestRPC_Validation(t *testing.T) {
	env := testServer(t)
	h := env.srv.Handler()

	w := doRequest(t, h, http.MethodPost, "/api/v1/plugins/mir/rpc", `{"params":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing method status = %d, want 400", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/api/v1/plugins/mir/rpc", `{"method":"eth_blockNumber"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("not running status = %d, want 409", w.Code)
	}
	if e := decodeBody[Error](t, w); e.Code != ErrCodeNotRunning {
		t.Errorf("code = %q, want %q", e.Code, ErrCodeNotRunning)
	}
	if calls := env.metrics.snapshot(); len(calls) != 0 {
		t.Errorf("unsent rpc recorded metrics: %v", calls)
	}
}

func TestWrite_NotRunning(t *testing.T) {
	env := testServer(t)
	w := doRequest(t, env.srv.Handler(), http.MethodPost, "/api/v1/plugins/mir/write", `{"data":"hello\n"}`)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestExecute_NoBinary(t *testing.T) {
	env := testServer(t)
	w := doRequest(t, env.srv.Handler(), http.MethodPost, "/api/v1/plugins/mir/execute", `{"args":["version"]}`)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 (%s)", w.Code, w.Body.String())
	}
}

func TestStopPlugin_WhenStopped(t *testing.T) {
	env := testServer(t)
	w := doRequest(t, env.srv.Handler(), http.MethodPost, "/api/v1/plugins/mir/stop", "")

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
}

// ─── Audit and Metrics ─────────────────────────────────────────────

func TestAudit_NotConfigured(t *testing.T) {
	env := testServer(t)
	env.srv.auditRepo = nil
	w := doRequest(t, env.srv.Handler(), http.MethodGet, "/api/v1/audit", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := testServer(t)
	w := doRequest(t, env.srv.Handler(), http.MethodGet, "/api/v1/metrics", "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	m := decodeBody[SystemMetrics](t, w)
	if m.Plugins.Total != 1 {
		t.Errorf("plugins.total = %d, want 1", m.Plugins.Total)
	}
	if m.Plugins.ByState["STOPPED"] != 1 {
		t.Errorf("plugins.by_state = %v, want STOPPED:1", m.Plugins.ByState)
	}
	if m.MQTT.Enabled {
		t.Error("mqtt.enabled = true without a client")
	}
	if m.Database == nil {
		t.Error("database metrics missing")
	}
	if m.Runtime.Goroutines == 0 {
		t.Error("runtime.goroutines = 0")
	}
}

func TestWritePluginError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", plugin.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"already running", fmt.Errorf("%w: mir", plugin.ErrAlreadyRunning), http.StatusConflict, ErrCodeConflict},
		{"binary in use", plugin.ErrBinaryInUse, http.StatusConflict, ErrCodeConflict},
		{"no release", plugin.ErrNoReleaseFound, http.StatusNotFound, ErrCodeNoRelease},
		{"no binary", plugin.ErrBinaryNotFound, http.StatusNotFound, ErrCodeNoRelease},
		{"not running", plugin.ErrNoActiveProcess, http.StatusConflict, ErrCodeNotRunning},
		{"spawn failure", &plugin.ProcessStartError{Binary: "/nope", Err: os.ErrNotExist}, http.StatusInternalServerError, ErrCodeStartFailure},
		{"other", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writePluginError(w, tt.err)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if e := decodeBody[Error](t, w); e.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", e.Code, tt.wantCode)
			}
		})
	}
}

// ─── WebSocket Hub ─────────────────────────────────────────────────

func newTestClient(hub *Hub, channels ...string) *WSClient {
	subs := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		subs[ch] = struct{}{}
	}
	return &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: subs,
	}
}

func TestHub_BroadcastToSubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := newTestClient(hub, PluginChannel("mir"))
	hub.Register(client)

	hub.Broadcast(PluginEvent{Plugin: "mir", Event: "newState", Payload: "RUNNING"}, PluginChannel("mir"), ChannelAllPlugins)

	select {
	case msg := <-client.send:
		var wsMsg WSMessage
		if err := json.Unmarshal(msg, &wsMsg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if wsMsg.EventType != "plugin.mir" {
			t.Errorf("event_type = %q, want plugin.mir", wsMsg.EventType)
		}
		payload, _ := wsMsg.Payload.(map[string]any)
		if payload["event"] != "newState" || payload["payload"] != "RUNNING" {
			t.Errorf("payload = %v", wsMsg.Payload)
		}
	case <-time.After(time.Second):
		t.Error("timed out waiting for broadcast message")
	}
}

func TestHub_NoMessageForUnsubscribed(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := newTestClient(hub, PluginChannel("geth"))
	hub.Register(client)

	hub.Broadcast(PluginEvent{Plugin: "mir"}, PluginChannel("mir"), ChannelAllPlugins)

	select {
	case <-client.send:
		t.Error("unsubscribed client should not receive message")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_OneMessagePerBroadcast(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := newTestClient(hub, PluginChannel("mir"), ChannelAllPlugins)
	hub.Register(client)

	hub.Broadcast(PluginEvent{Plugin: "mir"}, PluginChannel("mir"), ChannelAllPlugins)

	if got := len(client.send); got != 1 {
		t.Errorf("queued messages = %d, want 1", got)
	}
}

func TestHub_ClientCount(t *testing.T) {
	hub := NewHub(testWSConfig(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	if hub.ClientCount() != 0 {
		t.Errorf("initial client count = %d, want 0", hub.ClientCount())
	}

	client := newTestClient(hub)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Errorf("after register count = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.ClientCount())
	}
}

// ─── Server Lifecycle ──────────────────────────────────────────────

func TestServer_StartAndClose(t *testing.T) {
	env := testServer(t)

	if err := env.srv.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start = nil, want error")
	}

	if err := env.srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	addr := env.srv.Addr()

	resp, err := http.Get("http://" + addr + "/api/v1/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health check status = %d, want 200", resp.StatusCode)
	}
	if err := env.srv.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v, want nil", err)
	}

	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() error: %v", err)
	}
	if _, err := http.Get("http://" + addr + "/api/v1/health"); err == nil {
		t.Error("server still responding after Close()")
	}
}

func TestServer_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	env := testServer(t)
	env.srv.cfg.Port = ln.Addr().(*net.TCPAddr).Port
	if err := env.srv.Start(context.Background()); err == nil {
		_ = env.srv.Close()
		t.Fatal("Start() on a bound port = nil, want error")
	}
}

func TestServer_CloseWithoutStart(t *testing.T) {
	env := testServer(t)
	if err := env.srv.Close(); err != nil {
		t.Errorf("Close() = %v, want nil", err)
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Registry: plugin.NewRegistry(plugin.Options{})}); err == nil {
		t.Error("New without logger = nil error")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New without registry = nil error")
	}
}

// ─── WebSocket ─────────────────────────────────────────────────────

func dialWS(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // test deadline
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
	return msg
}

func subscribeWS(t *testing.T, ws *websocket.Conn, channels ...string) {
	t.Helper()
	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	resp := readWS(t, ws)
	if resp.Type != WSTypeResponse || resp.ID != "sub-1" {
		t.Fatalf("subscribe response = %+v", resp)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	env := testServer(t)
	addr := startServer(t, env)
	ws := dialWS(t, addr)

	if err := ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypePong || resp.ID != "ping-1" {
		t.Errorf("ping response = %+v, want pong ping-1", resp)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write invalid: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeError {
		t.Errorf("invalid JSON response type = %s, want error", resp.Type)
	}

	if err := ws.WriteJSON(WSMessage{Type: "unknown_type", ID: "x"}); err != nil {
		t.Fatalf("write unknown: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeError {
		t.Errorf("unknown type response = %s, want error", resp.Type)
	}

	if err := ws.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "empty", Payload: WSSubscribePayload{}}); err != nil {
		t.Fatalf("write empty subscribe: %v", err)
	}
	if resp := readWS(t, ws); resp.Type != WSTypeError {
		t.Errorf("empty subscribe response = %s, want error", resp.Type)
	}
}

func TestWebSocket_RejectsForeignOrigin(t *testing.T) {
	env := testServer(t)
	addr := startServer(t, env)

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/api/v1/ws", header)
	if err == nil {
		t.Fatal("dial with foreign origin succeeded")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

// TestPluginLifecycle drives a fake node through the API and checks that
// its events reach a WebSocket subscriber.
func TestPluginLifecycle(t *testing.T) {
	env := testServer(t)
	addr := startServer(t, env)
	base := "http://" + addr + "/api/v1/plugins/mir"

	ws := dialWS(t, addr)
	subscribeWS(t, ws, PluginChannel("mir"))

	post := func(path string, body any) *http.Response {
		t.Helper()
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		resp, err := http.Post(base+path, "application/json", bytes.NewReader(data))
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	rel := helperRelease()
	resp := post("/start", StartRequest{Flags: helperArgs, Release: &rel})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d, want 200", resp.StatusCode)
	}

	// STARTING then RUNNING arrive on the plugin channel.
	var states []string
	for len(states) < 2 {
		msg := readWS(t, ws)
		payload, _ := msg.Payload.(map[string]any)
		if payload["event"] == "newState" {
			states = append(states, payload["payload"].(string))
		}
	}
	if states[0] != "STARTING" || states[1] != "RUNNING" {
		t.Errorf("states = %v, want [STARTING RUNNING]", states)
	}

	if resp := post("/start", StartRequest{Flags: helperArgs, Release: &rel}); resp.StatusCode != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", resp.StatusCode)
	}

	resp = post("/rpc", map[string]any{"method": "eth_blockNumber"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rpc status = %d, want 200", resp.StatusCode)
	}
	var rpcResp RPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode rpc: %v", err)
	}
	if !rpcResp.Sent || rpcResp.Response == nil || string(rpcResp.Response.Result) != `"0x10"` {
		t.Errorf("rpc response = %+v", rpcResp)
	}

	resp = post("/rpc", map[string]any{"method": "eth_unknown", "params": []any{1}})
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		t.Fatalf("decode rpc: %v", err)
	}
	if rpcResp.Response == nil || rpcResp.Response.Error == nil || rpcResp.Response.Error.Code != -32601 {
		t.Errorf("unknown method response = %+v", rpcResp.Response)
	}
	if calls := env.metrics.snapshot(); len(calls) != 2 || calls[0] != "mir/eth_blockNumber/true" || calls[1] != "mir/eth_unknown/false" {
		t.Errorf("rpc metrics = %v", calls)
	}

	if resp := post("/write", WriteRequest{Data: "hello\n"}); resp.StatusCode != http.StatusNoContent {
		t.Errorf("write status = %d, want 204", resp.StatusCode)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		r, err := http.Get(base + "/logs?tail=50")
		if err != nil {
			t.Fatalf("GET logs: %v", err)
		}
		body := new(bytes.Buffer)
		_, _ = body.ReadFrom(r.Body)
		r.Body.Close()
		if strings.Contains(body.String(), "stdin: hello") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("echo never logged: %s", body.String())
		}
		time.Sleep(20 * time.Millisecond)
	}

	r, err := http.Get(base)
	if err != nil {
		t.Fatalf("GET plugin: %v", err)
	}
	var info plugin.Info
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	r.Body.Close()
	if info.IPCPath != "/tmp/mir-api.ipc" {
		t.Errorf("ipcPath = %q, want /tmp/mir-api.ipc", info.IPCPath)
	}

	if resp := post("/stop", nil); resp.StatusCode != http.StatusOK {
		t.Errorf("stop status = %d, want 200", resp.StatusCode)
	}
	x, err := env.registry.Get("mir")
	if err != nil {
		t.Fatalf("registry.Get: %v", err)
	}
	if x.IsRunning() {
		t.Error("plugin still running after stop")
	}

	logs, err := env.audit.List(context.Background(), audit.Filter{EntityID: "mir", Limit: 100})
	if err != nil {
		t.Fatalf("audit List: %v", err)
	}
	actions := make(map[string]int)
	for _, l := range logs.Logs {
		actions[l.Action]++
	}
	if actions[audit.ActionStart] != 1 || actions[audit.ActionStop] != 1 {
		t.Errorf("audit actions = %v, want one start and one stop", actions)
	}
}
