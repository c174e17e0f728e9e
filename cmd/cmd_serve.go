// cmd_serve.go - Server-Start und Versionsanzeige
// Hauptfunktionen: RunServer, versionHandler, checkServerHeartbeat
package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/genevo/fiteval/api"
	"github.com/genevo/fiteval/envconfig"
	"github.com/genevo/fiteval/server"
	"github.com/genevo/fiteval/version"
)

// RunServer - Startet den fiteval-Server
func RunServer(_ *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	err = server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// versionHandler - Zeigt Client- und Server-Version an
func versionHandler(cmd *cobra.Command, _ []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "fiteval version is %s\n", version.Version)

	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}

	resp, err := client.Version(cmd.Context())
	if err != nil {
		fmt.Fprintln(out, "Warning: could not connect to a running fiteval server")
		return
	}

	if resp.Version != version.Version {
		fmt.Fprintf(out, "Warning: server version is %s\n", resp.Version)
	}
	if len(resp.Backends) > 0 {
		fmt.Fprintf(out, "server backends: %s\n", strings.Join(resp.Backends, ", "))
	}
}

// checkServerHeartbeat - Prueft ob der Server erreichbar ist
func checkServerHeartbeat(cmd *cobra.Command, client *api.Client) error {
	if err := client.Heartbeat(cmd.Context()); err != nil {
		if strings.Contains(err.Error(), " refused") || strings.Contains(err.Error(), "could not connect") {
			return fmt.Errorf("fiteval server not responding at %s, start it with 'fiteval serve'", envconfig.Host())
		}
		return err
	}
	return nil
}
