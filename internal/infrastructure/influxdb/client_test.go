package influxdb_test

import (
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MIRChain/mir-control-center/internal/infrastructure/config"
	"github.com/MIRChain/mir-control-center/internal/infrastructure/influxdb"
	"github.com/MIRChain/mir-control-center/internal/process"
)

// fakeInflux answers pings and records line-protocol write bodies.
type fakeInflux struct {
	*httptest.Server
	pingStatus int

	mu     sync.Mutex
	writes []string
}

func newFakeInflux(t *testing.T) *fakeInflux {
	t.Helper()
	f := &fakeInflux{pingStatus: http.StatusNoContent}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/ping"):
			w.WriteHeader(f.pingStatus)
		case strings.HasSuffix(r.URL.Path, "/write"):
			var body io.Reader = r.Body
			if r.Header.Get("Content-Encoding") == "gzip" {
				gz, err := gzip.NewReader(r.Body)
				if err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				body = gz
			}
			data, _ := io.ReadAll(body) //nolint:errcheck // Test server
			f.mu.Lock()
			f.writes = append(f.writes, string(data))
			f.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeInflux) lines() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.writes, "\n")
}

func (f *fakeInflux) config() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           f.URL,
		Token:         "test-token",
		Org:           "mircc",
		Bucket:        "plugins",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func waitForLines(t *testing.T, f *fakeInflux, c *influxdb.Client, want ...string) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		c.Flush()
		got := f.lines()
		missing := ""
		for _, w := range want {
			if !strings.Contains(got, w) {
				missing = w
				break
			}
		}
		if missing == "" {
			return got
		}
		if time.Now().After(deadline) {
			t.Fatalf("written lines %q do not contain %q", got, missing)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestConnect_Disabled(t *testing.T) {
	cfg := config.InfluxDBConfig{Enabled: false}

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	f := newFakeInflux(t)
	cfg := f.config()
	f.Close()

	_, err := influxdb.Connect(cfg)
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_Unhealthy(t *testing.T) {
	f := newFakeInflux(t)
	f.pingStatus = http.StatusServiceUnavailable

	_, err := influxdb.Connect(f.config())
	if !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnect_DefaultBatchSettings(t *testing.T) {
	f := newFakeInflux(t)
	cfg := f.config()
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client, err := influxdb.Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
}

func TestHealthCheck(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close()
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestWritePluginMetrics(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	client.WritePluginState("mir", string(process.StateRunning))
	client.WritePluginEvent("mir", "pluginError")
	client.WriteProcessStats("mir", process.Stats{PID: 4242, Uptime: 90 * time.Second, LogLines: 12})
	client.WriteRPCCall("mir", "eth_blockNumber", 1500*time.Microsecond, true)

	waitForLines(t, f, client,
		"plugin_state,plugin=mir",
		`state="RUNNING"`,
		"running=true",
		"plugin_event,event=pluginError,plugin=mir count=1i",
		"plugin_process,plugin=mir",
		"pid=4242i",
		"uptime_seconds=90",
		"plugin_rpc,method=eth_blockNumber,plugin=mir",
		"elapsed_ms=1.5",
	)
}

func TestWritePointWithTime(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ts := time.Unix(1700000000, 0)
	client.WritePointWithTime("custom", map[string]string{"host": "node-1"}, map[string]any{"v": 2.5}, ts)

	waitForLines(t, f, client, "custom,host=node-1 v=2.5 1700000000000000000")
}

func TestWritesDroppedAfterClose(t *testing.T) {
	f := newFakeInflux(t)
	client, err := influxdb.Connect(f.config())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	client.WritePluginState("mir", "STOPPED")
	client.Flush()

	if got := f.lines(); strings.Contains(got, "plugin_state") {
		t.Errorf("write after Close reached the server: %q", got)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
}
