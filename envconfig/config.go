// config.go - Haupt-Konfigurationsfunktionen fuer fiteval
//
// Dieses Modul enthaelt:
// - Host: Gibt Scheme und Host des Servers zurueck (FITEVAL_HOST)
// - AllowedOrigins: Gibt erlaubte Origins zurueck (FITEVAL_ORIGINS)
// - KernelPath: Pfad zur Kernel-Quelle (FITEVAL_KERNEL_PATH)
// - DB: Pfad zur Runs-Datenbank (FITEVAL_DB)
// - LogLevel: Gibt Log-Level zurueck (FITEVAL_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Backend-, Geraete- und Parallelitaets-Variablen
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultPort is the port the evaluation server listens on when FITEVAL_HOST
// does not name one.
const DefaultPort = "11535"

// Host gibt Scheme und Host zurueck
// Konfigurierbar via FITEVAL_HOST
// Default: http://127.0.0.1:11535
func Host() *url.URL {
	defaultPort := DefaultPort

	s := strings.TrimSpace(Var("FITEVAL_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins gibt erlaubte Origins zurueck
// Konfigurierbar via FITEVAL_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("FITEVAL_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// KernelPath gibt den Pfad zur Kernel-Quelle zurueck
// Konfigurierbar via FITEVAL_KERNEL_PATH
// Default: source/snake_kernel.cl (relativ zum Arbeitsverzeichnis)
func KernelPath() string {
	if s := Var("FITEVAL_KERNEL_PATH"); s != "" {
		return s
	}

	return filepath.Join("source", "snake_kernel.cl")
}

// EntryPoint gibt den Namen der Kernel-Funktion zurueck
// Konfigurierbar via FITEVAL_ENTRY_POINT
// Default: snake_kernel
func EntryPoint() string {
	if s := Var("FITEVAL_ENTRY_POINT"); s != "" {
		return s
	}

	return "snake_kernel"
}

// DB gibt den Pfad zur Runs-Datenbank zurueck
// Konfigurierbar via FITEVAL_DB
// Default: $HOME/.fiteval/runs.db
func DB() string {
	if s := Var("FITEVAL_DB"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".fiteval", "runs.db")
	}

	return filepath.Join(home, ".fiteval", "runs.db")
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via FITEVAL_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("FITEVAL_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
