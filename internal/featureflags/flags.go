package featureflags

import (
	"os"
	"strings"
)

// Known flags.
const (
	// AuditStream gates the websocket live tail of the audit ledger.
	AuditStream = "audit_stream"
	// MaintenanceWorker gates the background sweep of expired state.
	MaintenanceWorker = "maintenance_worker"
)

// defaults holds the resolution of last resort for each flag. Flags absent
// here default to off.
var defaults = map[string]bool{
	MaintenanceWorker: true,
}

// Flags resolves feature toggles. Explicit overrides win over the
// environment; the environment form is FLAG_<NAME>=true/1/yes
// (case-insensitive).
type Flags struct {
	overrides map[string]bool
}

// New creates a flag resolver backed by the environment.
func New() *Flags {
	return &Flags{overrides: make(map[string]bool)}
}

// Set forces a flag regardless of the environment.
func (f *Flags) Set(name string, on bool) {
	f.overrides[name] = on
}

// Enabled reports whether a flag is on.
func (f *Flags) Enabled(name string) bool {
	if v, ok := f.overrides[name]; ok {
		return v
	}
	if v, ok := os.LookupEnv("FLAG_" + strings.ToUpper(name)); ok {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaults[name]
}
