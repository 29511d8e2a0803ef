package events

// Name identifies an event. The set is closed; observers may rely on it.
type Name string

const (
	// NewState carries a state string: STOPPED, STARTING, RUNNING,
	// downloading or extracting.
	NewState Name = "newState"
	// Error reports a failure outside any specific request.
	Error Name = "error"
	// Log carries one non-empty line of child output.
	Log Name = "log"
	// Notification carries a JSON-RPC message initiated by the child.
	Notification Name = "notification"
	// PluginData carries descriptor-extracted data from child output.
	PluginData Name = "pluginData"
	// PluginError carries a dismissible error record.
	PluginError Name = "pluginError"
	// SetAppBadge asks the shell to badge the plugin.
	SetAppBadge Name = "setAppBadge"
	// SetupEvent reports release acquisition progress.
	SetupEvent Name = "setup-event"
	// ClearPluginErrors signals that the error ledger became empty.
	ClearPluginErrors Name = "clearPluginErrors"
	// IPCPath carries the discovered IPC endpoint of the child.
	IPCPath Name = "ipcPath"
)

// All lists every event name in a stable order.
var All = []Name{
	NewState,
	Error,
	Log,
	Notification,
	PluginData,
	PluginError,
	SetAppBadge,
	SetupEvent,
	ClearPluginErrors,
	IPCPath,
}

// Valid reports whether n belongs to the closed event set.
func (n Name) Valid() bool {
	for _, known := range All {
		if n == known {
			return true
		}
	}
	return false
}

// Event is a single emitted notification. Payload is passed through
// relays unchanged.
type Event struct {
	Name    Name `json:"name"`
	Payload any  `json:"payload,omitempty"`
}

// Handler receives events. Handlers run on the emitting goroutine and must
// not block for long.
type Handler func(Event)

// ErrorRecord is the payload of PluginError events. Key identifies the
// record for dismissal; a later record with the same key replaces it.
type ErrorRecord struct {
	Key     string `json:"key"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}
