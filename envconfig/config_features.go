// config_features.go - Backend-, Geraete- und Parallelitaets-Konfiguration
//
// Dieses Modul enthaelt:
// - Backend-Auswahl (OpenCL oder Host)
// - Geraete-Praeferenz (GPU, CPU, auto)
// - Build-Optionen fuer den Kernel-Compiler
// - Parallelitaets- und Queue-Einstellungen
package envconfig

import (
	"log/slog"
	"runtime"
	"strings"
)

// =============================================================================
// Backend- und Geraete-Auswahl
// =============================================================================

var (
	// Backend erzwingt ein bestimmtes Backend (opencl, host)
	Backend = String("FITEVAL_BACKEND")

	// BuildOptions werden an die Compiler-Optionen angehaengt
	BuildOptions = String("FITEVAL_BUILD_OPTIONS")

	// NoStore deaktiviert das Speichern von Runs in der Datenbank
	NoStore = Bool("FITEVAL_NOSTORE")
)

// Device gibt die Geraete-Praeferenz zurueck
// Konfigurierbar via FITEVAL_DEVICE
// Werte: auto (GPU, sonst CPU), gpu (nur GPU), cpu (nur CPU)
func Device() string {
	s := strings.ToLower(Var("FITEVAL_DEVICE"))
	switch s {
	case "", "auto":
		return "auto"
	case "gpu", "cpu":
		return s
	default:
		slog.Warn("invalid device preference, using auto", "value", s)
		return "auto"
	}
}

// =============================================================================
// Parallelitaets- und Queue-Einstellungen
// =============================================================================

var (
	// MaxQueue begrenzt gleichzeitig laufende Evaluierungen im Server
	MaxQueue = Uint("FITEVAL_MAX_QUEUE", 4)
)

// NumThreads gibt die Anzahl der Worker des Host-Backends zurueck
// Konfigurierbar via FITEVAL_NUM_THREADS
// Default: runtime.NumCPU()
func NumThreads() int {
	n := Uint("FITEVAL_NUM_THREADS", 0)()
	if n == 0 {
		return runtime.NumCPU()
	}
	return int(n)
}
