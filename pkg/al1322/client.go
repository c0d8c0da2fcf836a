// Package al1322 talks to the ifm AL1322 IO-Link master that exposes the
// eight sensor channels. The hub serves process data as hex payloads over
// a small REST API.
package al1322

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// hexValueRE matches a bare hex payload, with or without a 0x prefix.
var hexValueRE = regexp.MustCompile(`^0x[0-9a-fA-F]+$|^[0-9a-fA-F]+$`)

// Client fetches the raw process data register of one hub port.
// Implementations must be safe for sequential per-cycle use; the engine
// never calls them concurrently.
type Client interface {
	// ReadPort returns the hex payload of port (1-based).
	ReadPort(ctx context.Context, port int) (string, error)
}

// HTTPClient reads process data over the hub's REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the hub at the given IP or host,
// with a per-request timeout.
func NewHTTPClient(host string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &HTTPClient{
		baseURL: "http://" + host,
		client:  &http.Client{Timeout: timeout},
	}
}

// ReadPort fetches /iolinkmaster/port[N]/iolinkdevice/pdin/getdata and
// extracts the hex payload from the response.
func (c *HTTPClient) ReadPort(ctx context.Context, port int) (string, error) {
	url := fmt.Sprintf("%s/iolinkmaster/port[%d]/iolinkdevice/pdin/getdata", c.baseURL, port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("port %d: %w", port, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("port %d: %w", port, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", fmt.Errorf("port %d: reading response: %w", port, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("port %d: HTTP %d", port, resp.StatusCode)
	}

	hex := ExtractHex(body)
	if hex == "" {
		return "", fmt.Errorf("port %d: no hex data in response", port)
	}
	return hex, nil
}

// ExtractHex digs the hex payload out of a hub response. The hub firmware
// has shipped several response shapes over the years: a bare hex string,
// or JSON with the payload under data/value/pDIN/hex at some depth.
func ExtractHex(body []byte) string {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return matchHex(string(body))
	}
	return extractHexValue(payload)
}

func extractHexValue(payload any) string {
	switch v := payload.(type) {
	case string:
		return matchHex(v)
	case map[string]any:
		for _, key := range []string{"data", "value", "pDIN", "pdin", "hex"} {
			if s, ok := v[key].(string); ok {
				if hex := matchHex(s); hex != "" {
					return hex
				}
			}
		}
		for _, nested := range v {
			if hex := extractHexValue(nested); hex != "" {
				return hex
			}
		}
	case []any:
		for _, item := range v {
			if hex := extractHexValue(item); hex != "" {
				return hex
			}
		}
	}
	return ""
}

func matchHex(s string) string {
	s = strings.TrimSpace(s)
	if hexValueRE.MatchString(s) {
		return s
	}
	return ""
}
