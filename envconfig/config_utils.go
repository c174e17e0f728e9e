// config_utils.go - Getter-Fabriken und Export der Konfiguration
//
// Bool, String und Uint liefern Funktionen, die die Variable bei jedem Aufruf
// neu lesen, damit t.Setenv in Tests ohne Neuinitialisierung wirkt.
// AsMap und Values dienen der CLI-Hilfe und dem Start-Log des Servers.
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// Bool liest einen Bool (Default: false). Ein gesetzter, aber nicht
// parsebarer Wert wie FITEVAL_NOSTORE=yes gilt als true.
func Bool(k string) func() bool {
	return func() bool {
		s := Var(k)
		if s == "" {
			return false
		}
		b, err := strconv.ParseBool(s)
		return err != nil || b
	}
}

// String liest einen String ohne Default
func String(k string) func() string {
	return func() string { return Var(k) }
}

// Uint liest einen uint; ungueltige Werte fallen mit Warnung auf den Default zurueck
func Uint(k string, defaultValue uint) func() uint {
	return func() uint {
		s := Var(k)
		if s == "" {
			return defaultValue
		}
		n, err := strconv.ParseUint(s, 10, strconv.IntSize)
		if err != nil {
			slog.Warn("invalid environment variable, using default", "key", k, "value", s, "default", defaultValue)
			return defaultValue
		}
		return uint(n)
	}
}

// EnvVar beschreibt eine Variable fuer die Hilfe-Ausgabe
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap liefert alle Variablen mit aktuellem Wert und Beschreibung
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"FITEVAL_DEBUG":         {"FITEVAL_DEBUG", LogLevel(), "Show additional debug information (e.g. FITEVAL_DEBUG=1)"},
		"FITEVAL_HOST":          {"FITEVAL_HOST", Host(), "IP Address for the fiteval server (default 127.0.0.1:11535)"},
		"FITEVAL_ORIGINS":       {"FITEVAL_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"FITEVAL_BACKEND":       {"FITEVAL_BACKEND", Backend(), "Compute backend: opencl or host (default: opencl when built with -tags opencl)"},
		"FITEVAL_DEVICE":        {"FITEVAL_DEVICE", Device(), "Device preference: auto, gpu or cpu"},
		"FITEVAL_KERNEL_PATH":   {"FITEVAL_KERNEL_PATH", KernelPath(), "Path to the per-genome kernel source"},
		"FITEVAL_ENTRY_POINT":   {"FITEVAL_ENTRY_POINT", EntryPoint(), "Kernel entry point name"},
		"FITEVAL_BUILD_OPTIONS": {"FITEVAL_BUILD_OPTIONS", BuildOptions(), "Extra options passed to the kernel compiler"},
		"FITEVAL_NUM_THREADS":   {"FITEVAL_NUM_THREADS", NumThreads(), "Worker count for the host backend"},
		"FITEVAL_MAX_QUEUE":     {"FITEVAL_MAX_QUEUE", MaxQueue(), "Maximum number of concurrent evaluations in the server"},
		"FITEVAL_DB":            {"FITEVAL_DB", DB(), "Path to the runs database"},
		"FITEVAL_NOSTORE":       {"FITEVAL_NOSTORE", NoStore(), "Do not record evaluation runs"},
	}
}

// Values liefert die aktuellen Werte fuer das Start-Log
func Values() map[string]string {
	vars := AsMap()
	vals := make(map[string]string, len(vars))
	for k, v := range vars {
		vals[k] = fmt.Sprint(v.Value)
	}
	return vals
}
