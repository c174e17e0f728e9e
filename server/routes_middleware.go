// routes_middleware.go - Host-Pruefung fuer den HTTP-Router
// Enthaelt: localAddr(), allowedHost(), allowedHostsMiddleware()
//
// Ein Server auf einer Loopback-Adresse beantwortet nur Anfragen, deren
// Host-Header auf diese Maschine zeigt (Schutz vor DNS-Rebinding aus dem
// Browser). Auf anderen Adressen ist jeder Host erlaubt.

package server

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
)

// localSuffixes are name suffixes that never resolve outside the local network
var localSuffixes = []string{".localhost", ".local", ".internal"}

// localAddr reports whether ip belongs to a local interface
func localAddr(ip netip.Addr) bool {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return false
	}

	for _, a := range addrs {
		prefix, err := netip.ParsePrefix(a.String())
		if err != nil {
			continue
		}
		if prefix.Addr().Unmap() == ip.Unmap() {
			return true
		}
	}
	return false
}

// allowedHost reports whether a host name refers to this machine
func allowedHost(host string) bool {
	host = strings.ToLower(host)
	switch host {
	case "", "localhost":
		return true
	}

	if hostname, err := os.Hostname(); err == nil && host == strings.ToLower(hostname) {
		return true
	}

	for _, suffix := range localSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// allowedHostsMiddleware rejects requests for foreign hosts while the server
// listens on loopback only
func allowedHostsMiddleware(addr net.Addr) gin.HandlerFunc {
	return func(c *gin.Context) {
		if addr == nil {
			c.Next()
			return
		}

		if ap, err := netip.ParseAddrPort(addr.String()); err == nil && !ap.Addr().IsLoopback() {
			c.Next()
			return
		}

		host, _, err := net.SplitHostPort(c.Request.Host)
		if err != nil {
			host = c.Request.Host
		}

		if ip, err := netip.ParseAddr(host); err == nil {
			if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || localAddr(ip) {
				c.Next()
				return
			}
		} else if allowedHost(host) {
			// preflight requests end here, cors has already answered them
			if c.Request.Method == http.MethodOptions {
				c.AbortWithStatus(http.StatusNoContent)
				return
			}
			c.Next()
			return
		}

		slog.Debug("rejected request for foreign host", "host", c.Request.Host, "path", c.Request.URL.Path)
		c.AbortWithStatus(http.StatusForbidden)
	}
}
