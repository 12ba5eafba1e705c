// Package probe checks whether the management nodes named in a sync record
// answer on their advertised URIs.
package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/planesync/pkg/types"
)

// DefaultTimeout bounds a single probe
const DefaultTimeout = 3 * time.Second

// LivePath is appended to http and https node URIs
const LivePath = "/live"

// Result is the outcome of probing one node
type Result struct {
	NodeID    string
	Reachable bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one address
type Checker interface {
	Check(ctx context.Context) Result
}

// HTTPChecker expects a 2xx or 3xx answer from URL
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// NewHTTPChecker creates an HTTP checker with the default timeout
func NewHTTPChecker(rawURL string) *HTTPChecker {
	return &HTTPChecker{
		URL:    rawURL,
		Client: &http.Client{Timeout: DefaultTimeout},
	}
}

// Check performs one GET request
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return failed(start, "failed to create request: %v", err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return failed(start, "request failed: %v", err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 400
	return Result{
		Reachable: ok,
		Message:   fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// TCPChecker expects a TCP connection to Address to succeed
type TCPChecker struct {
	Address string
	Timeout time.Duration
}

// NewTCPChecker creates a TCP checker with the default timeout
func NewTCPChecker(address string) *TCPChecker {
	return &TCPChecker{Address: address, Timeout: DefaultTimeout}
}

// Check opens and closes one connection
func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	dialer := &net.Dialer{Timeout: t.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.Address)
	if err != nil {
		return failed(start, "connection failed: %v", err)
	}
	conn.Close()

	return Result{
		Reachable: true,
		Message:   "connected to " + t.Address,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func failed(start time.Time, format string, args ...any) Result {
	return Result{
		Message:   fmt.Sprintf(format, args...),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// CheckerFor picks a checker for a node URI: http and https URIs get an HTTP
// check of their /live endpoint, anything else with a host:port is dialed.
func CheckerFor(uri string) (Checker, error) {
	if uri == "" {
		return nil, fmt.Errorf("node has no uri")
	}

	u, err := url.Parse(uri)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		u.Path = strings.TrimRight(u.Path, "/") + LivePath
		return NewHTTPChecker(u.String()), nil
	}
	if err == nil && u.Host != "" {
		return NewTCPChecker(u.Host), nil
	}

	if _, _, splitErr := net.SplitHostPort(uri); splitErr != nil {
		return nil, fmt.Errorf("cannot probe uri %q", uri)
	}
	return NewTCPChecker(uri), nil
}

// Nodes probes every node of record concurrently. Nodes without a usable URI
// are reported unreachable with the reason.
func Nodes(ctx context.Context, record *types.PlaneRecord) map[string]Result {
	results := make(map[string]Result, len(record.Nodes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for id, node := range record.Nodes {
		checker, err := CheckerFor(node.URI)
		if err != nil {
			results[id] = Result{NodeID: id, Message: err.Error(), CheckedAt: time.Now()}
			continue
		}

		wg.Add(1)
		go func(id string, checker Checker) {
			defer wg.Done()
			result := checker.Check(ctx)
			result.NodeID = id

			mu.Lock()
			results[id] = result
			mu.Unlock()
		}(id, checker)
	}

	wg.Wait()
	return results
}
