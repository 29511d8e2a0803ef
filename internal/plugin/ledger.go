package plugin

import (
	"sync"

	"github.com/MIRChain/mir-control-center/internal/events"
)

// ErrorLedger collects error records reported by a plugin's process.
// Records are kept in arrival order; recording a key that is already
// present replaces that record in place.
type ErrorLedger struct {
	mu      sync.Mutex
	records []events.ErrorRecord
	emitter *events.Emitter
}

// NewErrorLedger creates a ledger that announces ClearPluginErrors on emitter.
func NewErrorLedger(emitter *events.Emitter) *ErrorLedger {
	return &ErrorLedger{emitter: emitter}
}

// Record adds rec.
func (l *ErrorLedger) Record(rec events.ErrorRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.records {
		if l.records[i].Key == rec.Key {
			l.records[i] = rec
			return
		}
	}
	l.records = append(l.records, rec)
}

// Dismiss removes every record with key. ClearPluginErrors is emitted only
// when this call empties a non-empty ledger.
func (l *ErrorLedger) Dismiss(key string) {
	l.mu.Lock()
	kept := l.records[:0]
	removed := false
	for _, r := range l.records {
		if r.Key == key {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	l.records = kept
	cleared := removed && len(kept) == 0
	l.mu.Unlock()

	if cleared {
		l.emitter.Emit(events.ClearPluginErrors, nil)
	}
}

// Clear drops all records and always emits ClearPluginErrors.
func (l *ErrorLedger) Clear() {
	l.mu.Lock()
	l.records = nil
	l.mu.Unlock()
	l.emitter.Emit(events.ClearPluginErrors, nil)
}

// Errors returns a copy of the records, oldest first.
func (l *ErrorLedger) Errors() []events.ErrorRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]events.ErrorRecord(nil), l.records...)
}

// Len returns the number of records.
func (l *ErrorLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// recordEvent is the relay tap: it files pluginError payloads.
func (l *ErrorLedger) recordEvent(ev events.Event) {
	if ev.Name != events.PluginError {
		return
	}
	switch rec := ev.Payload.(type) {
	case events.ErrorRecord:
		l.Record(rec)
	case *events.ErrorRecord:
		if rec != nil {
			l.Record(*rec)
		}
	case string:
		l.Record(events.ErrorRecord{Key: rec, Message: rec})
	}
}
