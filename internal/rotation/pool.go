// Package rotation cycles through pools of proxies and user agents to
// reduce fingerprinting and ban risk.
package rotation

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// defaultUserAgents is the built-in fallback set used when no user-agent
// list is configured.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.3 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/119.0",
}

// Pool hands out proxies and user agents round-robin. Each crawl session
// owns its own Pool; the mutex covers the shared-instance case.
type Pool struct {
	mu         sync.Mutex
	proxies    []string
	userAgents []string
	proxyIdx   int
	uaIdx      int
}

// NewPool builds a Pool from the given lists. An empty user-agent list
// falls back to the built-in default set; an empty proxy list means every
// NextProxy call returns "" (direct connection).
func NewPool(proxies, userAgents []string) *Pool {
	if len(userAgents) == 0 {
		userAgents = append([]string(nil), defaultUserAgents...)
	}
	return &Pool{
		proxies:    append([]string(nil), proxies...),
		userAgents: userAgents,
		proxyIdx:   -1,
		uaIdx:      -1,
	}
}

// NewPoolFromFiles loads proxy and user-agent lists from files, one entry
// per line. Missing or empty files are valid.
func NewPoolFromFiles(proxyPath, userAgentPath string) *Pool {
	return NewPool(LoadLines(proxyPath), LoadLines(userAgentPath))
}

// NextProxy returns the next proxy in rotation, or "" when no proxies
// are loaded.
func (p *Pool) NextProxy() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return ""
	}
	p.proxyIdx = (p.proxyIdx + 1) % len(p.proxies)
	return p.proxies[p.proxyIdx]
}

// NextUserAgent returns the next user agent in rotation.
func (p *Pool) NextUserAgent() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uaIdx = (p.uaIdx + 1) % len(p.userAgents)
	return p.userAgents[p.uaIdx]
}

// LoadLines reads non-empty trimmed lines from path. A missing or
// unreadable file yields nil.
func LoadLines(path string) []string {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close() //nolint:errcheck // read-only file

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
