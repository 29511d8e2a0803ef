package plugin

import (
	"runtime"
	"strings"
	"sync"

	"github.com/MIRChain/mir-control-center/internal/process"
)

// ipcMarker is printed by geth-family clients once the IPC socket is up.
const ipcMarker = "IPC endpoint opened"

var (
	ipcMu        sync.RWMutex
	ipcResolvers = map[string]process.IPCResolver{
		"log-marker": LogMarkerIPCResolver,
		"geth":       LogMarkerIPCResolver,
		"mir":        LogMarkerIPCResolver,
	}
)

// RegisterIPCResolver makes a resolver selectable by name from descriptor
// files.
func RegisterIPCResolver(name string, r process.IPCResolver) {
	ipcMu.Lock()
	defer ipcMu.Unlock()
	ipcResolvers[name] = r
}

func lookupIPCResolver(name string) (process.IPCResolver, bool) {
	ipcMu.RLock()
	defer ipcMu.RUnlock()
	r, ok := ipcResolvers[name]
	return r, ok
}

// LogMarkerIPCResolver finds the "IPC endpoint opened" line and returns the
// path after "url=". Doubled backslashes from escaped log output are
// collapsed except on Windows, where pipe names are used as printed.
func LogMarkerIPCResolver(logs []string) string {
	for _, line := range logs {
		if !strings.Contains(line, ipcMarker) {
			continue
		}
		path := ipcValue(line)
		if path == "" {
			continue
		}
		if runtime.GOOS != "windows" {
			path = strings.ReplaceAll(path, `\\`, `\`)
		}
		return path
	}
	return ""
}

func ipcValue(line string) string {
	var rest string
	if i := strings.Index(line, "url="); i >= 0 {
		rest = line[i+len("url="):]
	} else if i := strings.Index(line, "="); i >= 0 {
		rest = line[i+1:]
	} else {
		return ""
	}
	rest = strings.ReplaceAll(rest, "isMultitenant", "")
	if fields := strings.Fields(rest); len(fields) > 0 {
		return strings.Trim(fields[0], `"`)
	}
	return ""
}
