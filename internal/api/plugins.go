package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MIRChain/mir-control-center/internal/events"
	"github.com/MIRChain/mir-control-center/internal/plugin"
	"github.com/MIRChain/mir-control-center/internal/release"
	"github.com/MIRChain/mir-control-center/internal/rpc"
)

// rpcTimeout bounds a single RPC round-trip made through the API.
const rpcTimeout = 30 * time.Second

// Download progress event names broadcast on plugin channels.
const (
	EventDownloadProgress   = "downloadProgress"
	EventExtractionProgress = "extractionProgress"
	EventDownloadComplete   = "downloadComplete"
	EventDownloadFailed     = "downloadFailed"
)

// StartRequest is the body of POST /plugins/{name}/start and
// /plugins/{name}/request-start. A nil Flags uses the plugin settings; a nil
// Release resolves one.
type StartRequest struct {
	App     string           `json:"app,omitempty"`
	Flags   []string         `json:"flags,omitempty"`
	Release *release.Release `json:"release,omitempty"`
}

// RPCRequest is the body of POST /plugins/{name}/rpc.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	ID     json.RawMessage `json:"id,omitempty"`
}

// RPCResponse reports the outcome of an RPC call.
type RPCResponse struct {
	Response  *rpc.Response `json:"response,omitempty"`
	Sent      bool          `json:"sent"`
	ElapsedMS int64         `json:"elapsed_ms"`
}

// WriteRequest is the body of POST /plugins/{name}/write.
type WriteRequest struct {
	Data string `json:"data"`
}

// ExecuteRequest is the body of POST /plugins/{name}/execute.
type ExecuteRequest struct {
	Args []string `json:"args"`
}

// handleListPlugins returns every plugin in display order.
func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	proxies := s.registry.List()
	infos := make([]plugin.Info, 0, len(proxies))
	for _, x := range proxies {
		infos = append(infos, x.Info())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"plugins": infos,
		"count":   len(infos),
	})
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, proxyFrom(r).Info())
}

func (s *Server) handlePluginStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, proxyFrom(r).Stats())
}

// handlePluginLogs returns buffered output lines of the current process.
// Query parameter tail limits the result to the last n lines.
func (s *Server) handlePluginLogs(w http.ResponseWriter, r *http.Request) {
	logs := proxyFrom(r).Logs()
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "tail must be a non-negative integer")
			return
		}
		if n < len(logs) {
			logs = logs[len(logs)-n:]
		}
	}
	if logs == nil {
		logs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

func (s *Server) handleListPluginErrors(w http.ResponseWriter, r *http.Request) {
	errs := proxyFrom(r).Errors()
	if errs == nil {
		errs = []events.ErrorRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": errs})
}

func (s *Server) handleDismissPluginError(w http.ResponseWriter, r *http.Request) {
	proxyFrom(r).DismissError(chi.URLParam(r, "key"))
	w.WriteHeader(http.StatusNoContent)
}

// handleListReleases lists releases. Query parameter source selects
// "cached" or "all" (default).
func (s *Server) handleListReleases(w http.ResponseWriter, r *http.Request) {
	x := proxyFrom(r)
	var (
		rels []release.Release
		err  error
	)
	switch r.URL.Query().Get("source") {
	case "", "all":
		rels, err = x.GetReleases(r.Context())
	case "cached":
		rels, err = x.GetCachedReleases(r.Context())
	default:
		writeBadRequest(w, `source must be "all" or "cached"`)
		return
	}
	if err != nil {
		s.logger.Error("listing releases failed", "plugin", x.Name(), "error", err)
		writePluginError(w, err)
		return
	}
	if rels == nil {
		rels = []release.Release{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"releases": rels, "count": len(rels)})
}

// handleLatestRelease returns the newest remote release, or the newest
// cached one with ?cached=true.
func (s *Server) handleLatestRelease(w http.ResponseWriter, r *http.Request) {
	x := proxyFrom(r)
	var (
		rel *release.Release
		err error
	)
	if cached, _ := strconv.ParseBool(r.URL.Query().Get("cached")); cached { //nolint:errcheck // invalid values mean false
		rel, err = x.GetLatestCached(r.Context())
	} else {
		rel, err = x.GetLatestRemote(r.Context())
	}
	if err != nil {
		writePluginError(w, err)
		return
	}
	if rel == nil {
		writePluginError(w, plugin.ErrNoReleaseFound)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (s *Server) handleCheckForUpdates(w http.ResponseWriter, r *http.Request) {
	info, err := proxyFrom(r).CheckForUpdates(r.Context())
	if err != nil {
		writePluginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleDownloadRelease downloads the release in the body. Progress is
// broadcast on the plugin's channel. The call returns 202 immediately and
// reports completion on the channel; with ?wait=true it blocks and returns
// the cached release.
func (s *Server) handleDownloadRelease(w http.ResponseWriter, r *http.Request) {
	x := proxyFrom(r)
	var rel release.Release
	if err := json.NewDecoder(r.Body).Decode(&rel); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if rel.Location == "" {
		writeBadRequest(w, "release location is required")
		return
	}

	name := x.Name()
	progress := func(event string) func(release.Progress) {
		return func(p release.Progress) {
			s.hub.Broadcast(PluginEvent{Plugin: name, Event: event, Payload: p}, PluginChannel(name), ChannelAllPlugins)
		}
	}
	download := func(ctx context.Context) (*release.Release, error) {
		got, err := x.Download(ctx, rel, progress(EventDownloadProgress), progress(EventExtractionProgress))
		if err != nil {
			s.logger.Error("release download failed", "plugin", name, "version", rel.Version, "error", err)
			s.hub.Broadcast(PluginEvent{Plugin: name, Event: EventDownloadFailed, Payload: err.Error()}, PluginChannel(name), ChannelAllPlugins)
			return nil, err
		}
		s.hub.Broadcast(PluginEvent{Plugin: name, Event: EventDownloadComplete, Payload: got}, PluginChannel(name), ChannelAllPlugins)
		return got, nil
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait { //nolint:errcheck // invalid values mean false
		got, err := download(r.Context())
		if err != nil {
			writePluginError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, got)
		return
	}

	ctx := s.backgroundContext()
	go download(ctx) //nolint:errcheck // outcome is broadcast
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":  "downloading",
		"channel": PluginChannel(name),
	})
}

func (s *Server) handleGetSelectedRelease(w http.ResponseWriter, r *http.Request) {
	rel, err := proxyFrom(r).GetSelectedRelease(r.Context())
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	if rel == nil {
		writeNotFound(w, "no release selected")
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

func (s *Server) handleSetSelectedRelease(w http.ResponseWriter, r *http.Request) {
	var rel release.Release
	if err := json.NewDecoder(r.Body).Decode(&rel); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if rel.Version == "" || rel.Location == "" {
		writeBadRequest(w, "release version and location are required")
		return
	}
	if err := proxyFrom(r).SetSelectedRelease(r.Context(), rel); err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// decodeStart reads an optional StartRequest body.
func decodeStart(r *http.Request) (StartRequest, error) {
	var req StartRequest
	if r.ContentLength == 0 {
		return req, nil
	}
	err := json.NewDecoder(r.Body).Decode(&req)
	if errors.Is(err, io.EOF) {
		return req, nil
	}
	return req, err
}

// handleStartPlugin starts the plugin without asking for permission.
// The process outlives the request.
func (s *Server) handleStartPlugin(w http.ResponseWriter, r *http.Request) {
	x := proxyFrom(r)
	req, err := decodeStart(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := x.Start(r.Context(), req.Flags, req.Release); err != nil {
		writePluginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, x.Info())
}

// handleRequestStart asks the configured prompter before starting. A
// denial answers 200 with the plugin still stopped.
func (s *Server) handleRequestStart(w http.ResponseWriter, r *http.Request) {
	x := proxyFrom(r)
	req, err := decodeStart(r)
	if err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	app := req.App
	if app == "" {
		app = "api"
	}
	if err := x.RequestStart(r.Context(), app, req.Flags, req.Release); err != nil {
		writePluginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, x.Info())
}

func (s *Server) handleStopPlugin(w http.ResponseWriter, r *http.Request) {
	x := proxyFrom(r)
	if err := x.Stop(r.Context()); err != nil {
		writePluginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, x.Info())
}

// handlePluginRPC relays one JSON-RPC request to the plugin's stdin.
// A JSON-RPC error from the node is a 200 with response.error set.
func (s *Server) handlePluginRPC(w http.ResponseWriter, r *http.Request) {
	x := proxyFrom(r)
	var body RPCRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.Method == "" {
		writeBadRequest(w, "method is required")
		return
	}

	req := plugin.Request{Method: body.Method}
	if len(body.Params) > 0 {
		req.Params = body.Params
	}
	if len(body.ID) > 0 {
		req.ID = body.ID
	}

	ctx, cancel := context.WithTimeout(r.Context(), rpcTimeout)
	defer cancel()
	res := x.Send(ctx, req)

	if s.metrics != nil && res.Sent {
		s.metrics.WriteRPCCall(x.Name(), body.Method, res.Elapsed, res.OK())
	}

	if res.Err != nil {
		if errors.Is(res.Err, context.DeadlineExceeded) {
			writeError(w, http.StatusGatewayTimeout, ErrCodeUnavailable, "rpc timed out")
			return
		}
		writePluginError(w, res.Err)
		return
	}
	writeJSON(w, http.StatusOK, RPCResponse{
		Response:  res.Response,
		Sent:      res.Sent,
		ElapsedMS: res.Elapsed.Milliseconds(),
	})
}

// handlePluginWrite writes data verbatim to the plugin's stdin.
func (s *Server) handlePluginWrite(w http.ResponseWriter, r *http.Request) {
	x := proxyFrom(r)
	var body WriteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !x.IsRunning() {
		writePluginError(w, plugin.ErrNoActiveProcess)
		return
	}
	if err := x.Write([]byte(body.Data)); err != nil {
		writeInternalError(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePluginExecute runs the plugin binary once and returns its output.
func (s *Server) handlePluginExecute(w http.ResponseWriter, r *http.Request) {
	x := proxyFrom(r)
	var body ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	lines, err := x.Execute(r.Context(), body.Args)
	if err != nil && lines == nil {
		writePluginError(w, err)
		return
	}
	resp := map[string]any{"output": lines}
	if err != nil {
		resp["error"] = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
