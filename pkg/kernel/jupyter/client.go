// Package jupyter launches kernels through a Jupyter Server's REST API and
// talks to them over the server's websocket channel endpoint.
package jupyter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nstogner/nbtool/pkg/kernel"
)

const (
	requestTimeout = 30 * time.Second
	// readyRetryInterval is how long to wait for a kernel_info_reply before
	// asking again. Freshly started kernels may drop the first request.
	readyRetryInterval = time.Second
	cleanupTimeout     = 10 * time.Second
)

// Client talks to one Jupyter Server.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
}

var _ kernel.Launcher = (*Client)(nil)

// NewClient creates a client for the server at rawURL, authenticating with
// token when it is not empty.
func NewClient(rawURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing jupyter url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("jupyter url must be http or https, got %q", rawURL)
	}
	return &Client{
		baseURL: u,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
		dialer:  websocket.DefaultDialer,
	}, nil
}

// Ping checks that the server answers /api/status.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, c.endpoint("status"), nil, nil)
}

// ListSpecs returns the installed kernelspec names, sorted.
func (c *Client) ListSpecs(ctx context.Context) ([]string, error) {
	var out struct {
		Default     string                     `json:"default"`
		Kernelspecs map[string]json.RawMessage `json:"kernelspecs"`
	}
	if err := c.do(ctx, http.MethodGet, c.endpoint("kernelspecs"), nil, &out); err != nil {
		return nil, fmt.Errorf("listing kernelspecs: %w", err)
	}
	names := make([]string, 0, len(out.Kernelspecs))
	for name := range out.Kernelspecs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Launch starts a kernel, opens its channels and waits for it to answer a
// kernel_info_request.
func (c *Client) Launch(ctx context.Context, spec string) (kernel.Session, error) {
	var created struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, http.MethodPost, c.endpoint("kernels"), map[string]string{"name": spec}, &created); err != nil {
		return nil, fmt.Errorf("creating kernel: %w", err)
	}

	s, err := c.connect(ctx, created.ID, spec)
	if err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		_ = c.deleteKernel(cleanupCtx, created.ID)
		return nil, err
	}
	if err := s.waitReady(ctx); err != nil {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		_ = s.Shutdown(cleanupCtx)
		return nil, err
	}
	return s, nil
}

func (c *Client) connect(ctx context.Context, id, spec string) (*Session, error) {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = path.Join(u.Path, "api", "kernels", id, "channels")
	sessionID := uuid.NewString()
	u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()

	h := http.Header{}
	c.authorize(h)
	conn, resp, err := c.dialer.DialContext(ctx, u.String(), h)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("connecting kernel channels: %w", err)
	}
	return newSession(c, conn, id, spec, sessionID), nil
}

func (c *Client) interruptKernel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, c.endpoint("kernels", id, "interrupt"), nil, nil)
}

func (c *Client) deleteKernel(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.endpoint("kernels", id), nil, nil)
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.baseURL
	u.Path = path.Join(append([]string{u.Path, "api"}, parts...)...)
	return u.String()
}

func (c *Client) authorize(h http.Header) {
	if c.token != "" {
		h.Set("Authorization", "token "+c.token)
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("jupyter %s %s: status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}
