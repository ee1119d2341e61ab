// Package proxy writes the nginx reverse-proxy file fragments that expose a
// board's webservice under https://<board>.<zone>/ (spec.md §6 EXTERNAL
// INTERFACES, "reverse proxy").
//
// Every file layout and line format below is ported literally from the
// original control plane's wamp/proxies/nginx.py (see
// original_source/iotronic/wamp/proxies/nginx.py): the map/upstream/server
// file-per-board convention, the single-line redirect fragment and its
// insertion at line index 4, and the nginx reload invocation.
package proxy

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/iotronic/conductor/internal/logging"
)

// Gateway writes and removes nginx configuration fragments under Path and
// reloads nginx via "nginx -s reload".
type Gateway struct {
	Path          string
	WstunEndpoint string

	// reload is swappable so tests can exercise the config-writing logic
	// without an nginx binary on $PATH; NewGateway wires the real exec call.
	reload func() error
}

// NewGateway constructs a Gateway rooted at nginxPath, proxying upstream
// connections to wstunEndpoint (the wstun tunnel terminator), per the
// [nginx] config section (spec.md §6).
func NewGateway(nginxPath, wstunEndpoint string) *Gateway {
	g := &Gateway{Path: nginxPath, WstunEndpoint: wstunEndpoint}
	g.reload = g.execReload
	return g
}

func (g *Gateway) mapPath(board string) string      { return filepath.Join(g.Path, "maps", "map_"+board) }
func (g *Gateway) upstreamPath(board string) string { return filepath.Join(g.Path, "upstreams", "upstream_"+board) }
func (g *Gateway) serverPath(board string) string   { return filepath.Join(g.Path, "servers", board) }

func (g *Gateway) saveMap(board, zone string) error {
	content := "~" + board + "." + zone + " " + board + ";"
	return os.WriteFile(g.mapPath(board), []byte(content), 0644)
}

func (g *Gateway) saveUpstream(board string, httpsPort int) error {
	content := fmt.Sprintf("upstream %s {\n    server %s:%d max_fails=3 fail_timeout=10s;\n    }\n    ",
		board, g.WstunEndpoint, httpsPort)
	return os.WriteFile(g.upstreamPath(board), []byte(content), 0644)
}

func (g *Gateway) saveServer(board string, httpPort int, zone string) error {
	content := fmt.Sprintf(`server {
    listen              80;
    server_name         .%s.%s;

    location / {
        proxy_pass http://%s:%d;
    }
    }
    `, board, zone, g.WstunEndpoint, httpPort)
	return os.WriteFile(g.serverPath(board), []byte(content), 0644)
}

// EnableWebservice writes the map, upstream and server fragments for board.
func (g *Gateway) EnableWebservice(board string, httpsPort, httpPort int, zone string) error {
	logging.Proxy().Debug().Str("board", board).Int("http", httpPort).Int("https", httpsPort).Msg("enabling webservice")
	if err := g.saveMap(board, zone); err != nil {
		return fmt.Errorf("writing nginx map for %s: %w", board, err)
	}
	if err := g.saveUpstream(board, httpsPort); err != nil {
		return fmt.Errorf("writing nginx upstream for %s: %w", board, err)
	}
	if err := g.saveServer(board, httpPort, zone); err != nil {
		return fmt.Errorf("writing nginx server for %s: %w", board, err)
	}
	return nil
}

// DisableWebservice removes all three fragments for board. Each file is
// removed independently so a partially-written prior enable (e.g. a crash
// between saveMap and saveServer) still gets fully cleaned up.
func (g *Gateway) DisableWebservice(board string) error {
	logging.Proxy().Debug().Str("board", board).Msg("disabling webservice")
	var firstErr error
	for _, path := range []string{g.serverPath(board), g.upstreamPath(board), g.mapPath(board)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// stringRedirect builds the single nginx `if` fragment that 301-redirects
// board.zone (or dns.board.zone, when dns is set) to https, matching
// string_redirect's exact text.
func stringRedirect(board, zone, dns string) string {
	host := board + "." + zone
	if dns != "" {
		host = dns + "." + board + "." + zone
	}
	return fmt.Sprintf("if ($host = %s) { return 301 https://$host$request_uri; }\n", host)
}

func insertEntry(line string, lines []string) []string {
	for _, l := range lines {
		if l == line {
			return lines
		}
	}
	if len(lines) <= 4 {
		return append(lines, line)
	}
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:4]...)
	out = append(out, line)
	out = append(out, lines[4:]...)
	return out
}

func removeEntry(line string, lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != line {
			out = append(out, l)
		}
	}
	return out
}

func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Preserve Python readlines()-style entries: every line keeps its
	// trailing newline except a possible final unterminated one.
	raw := strings.SplitAfter(string(data), "\n")
	if len(raw) > 0 && raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}
	return raw, nil
}

func writeLines(path string, lines []string) error {
	return os.WriteFile(path, []byte(strings.Join(lines, "")), 0644)
}

// AddRedirect inserts a host redirect into board's server file at line index
// 4, matching insert_entry's fixed insertion point (the line immediately
// after the static "server {" preamble).
func (g *Gateway) AddRedirect(boardDNS, zone, dns string) error {
	line := stringRedirect(boardDNS, zone, dns)
	path := g.serverPath(boardDNS)
	logging.Proxy().Debug().Str("line", line).Str("path", path).Msg("adding redirect")

	lines, err := readLines(path)
	if err != nil {
		return fmt.Errorf("reading server file for %s: %w", boardDNS, err)
	}
	lines = insertEntry(line, lines)
	return writeLines(path, lines)
}

// RemoveRedirect removes a previously-added redirect line.
func (g *Gateway) RemoveRedirect(boardDNS, zone, dns string) error {
	path := g.serverPath(boardDNS)
	line := stringRedirect(boardDNS, zone, dns)
	logging.Proxy().Debug().Str("line", line).Str("path", path).Msg("removing redirect")

	lines, err := readLines(path)
	if err != nil {
		return fmt.Errorf("reading server file for %s: %w", boardDNS, err)
	}
	lines = removeEntry(line, lines)
	return writeLines(path, lines)
}

// ReloadProxy asks the running nginx instance to reload its configuration.
func (g *Gateway) ReloadProxy() error {
	return g.reload()
}

// SetReloadForTesting overrides the reload hook, the way the teacher's
// db.Database.SetDB injects a sqlmock connection: a test seam rather than a
// general-purpose customization point.
func (g *Gateway) SetReloadForTesting(f func() error) {
	g.reload = f
}

func (g *Gateway) execReload() error {
	if err := exec.Command("nginx", "-s", "reload").Run(); err != nil {
		return fmt.Errorf("reloading nginx: %w", err)
	}
	return nil
}
