// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - Hauptfunktion zum Starten des HTTP-Servers

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/genevo/fiteval/discover"
	"github.com/genevo/fiteval/envconfig"
	"github.com/genevo/fiteval/evaluate"
	"github.com/genevo/fiteval/logutil"
	"github.com/genevo/fiteval/store"
	"github.com/genevo/fiteval/version"
)

// Serve startet den HTTP-Server und beendet ihn bei SIGINT/SIGTERM
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	var st *store.Store
	if !envconfig.NoStore() {
		st = &store.Store{DBPath: envconfig.DB()}
		defer st.Close()
	}

	e := &evaluate.Evaluator{}
	s := NewServer(ln.Addr(), e, st, int(envconfig.MaxQueue()))

	h, err := s.GenerateRoutes()
	if err != nil {
		return err
	}

	ctx, done := context.WithCancel(context.Background())
	defer done()

	// At startup we list the devices so driver problems show up in the log
	// before the first evaluation
	if devices, err := e.Devices(ctx); err != nil {
		slog.Warn("device discovery failed", "error", err)
	} else {
		discover.LogDetails(devices)
	}

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	srvr := &http.Server{Handler: h}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			srvr.Close()
		case <-ctx.Done():
		}
	}()

	if err := srvr.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
