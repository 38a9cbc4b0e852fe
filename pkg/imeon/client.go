package imeon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/imeonm/imeonm/pkg/common"
	"github.com/imeonm/imeonm/pkg/log"
	"github.com/imeonm/imeonm/pkg/types"
	"github.com/levenlabs/go-lflag"
)

const (
	sessionCookie = "session"

	defaultEmail      = "user@local"
	defaultPassword   = "password"
	defaultResolution = 60 * time.Second
	defaultTimeout    = 30 * time.Second
)

// handshakeToken is one of the TSTMD/USDT/USRL login tokens. A token that was
// never issued is left out of the login form, an issued empty one is sent.
type handshakeToken struct {
	value  string
	issued bool
}

func (t *handshakeToken) update(v *types.HandshakeToken) {
	if v == nil {
		return
	}
	t.value = string(*v)
	t.issued = true
}

func (t handshakeToken) encode(form url.Values, key string) {
	if t.issued {
		form.Set(key, t.value)
	}
}

// Client talks to the control panel of a single IMEON device. It logs in
// once, reuses the session cookie, and logs in again the first time a
// request is rejected. Responses are cached per endpoint for one resolution.
type Client struct {
	client     *http.Client
	baseURL    string
	email      string
	password   string
	resolution time.Duration
	now        func() time.Time

	mu      sync.Mutex
	session string
	tstmd   handshakeToken
	usdt    handshakeToken
	usrl    handshakeToken
	cache   map[Endpoint]cacheEntry
}

// NewClient returns a client for the device at address, which can be a bare
// host (192.168.0.20) or a URL.
func NewClient(address string, resolution time.Duration) (*Client, error) {
	c := &Client{
		client:     common.HTTPClient(defaultTimeout),
		baseURL:    normalizeAddress(address),
		email:      defaultEmail,
		password:   defaultPassword,
		resolution: resolution,
		now:        time.Now,
		cache:      make(map[Endpoint]cacheEntry),
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Configured registers the device flags and returns a client that is filled
// in once flags are parsed. Callers must call Validate after lflag.Configure.
func Configured() *Client {
	c := &Client{
		now:   time.Now,
		cache: make(map[Endpoint]cacheEntry),
	}
	address := lflag.String("imeon", "", "URL/IP of the IMEON device (required)")
	scanPeriod := lflag.Int("scan-period", int(defaultResolution/time.Second), "How often, in seconds, to pull fresh samples from the device")
	email := lflag.String("imeon-email", defaultEmail, "Email used to login to the device")
	password := lflag.String("imeon-password", defaultPassword, "Password used to login to the device")
	timeout := lflag.Duration("imeon-timeout", defaultTimeout, "Timeout for each request made to the device")

	lflag.Do(func() {
		c.baseURL = normalizeAddress(*address)
		c.resolution = time.Duration(*scanPeriod) * time.Second
		c.email = *email
		c.password = *password
		c.client = common.HTTPClient(*timeout)
	})

	return c
}

// Validate ensures the configuration is valid.
func (c *Client) Validate() error {
	if c.baseURL == "" {
		return &ConfigError{Flag: "imeon", Reason: "an IP or URL must be provided"}
	}
	if _, err := url.Parse(c.baseURL); err != nil {
		return &ConfigError{Flag: "imeon", Reason: fmt.Sprintf("failed to parse %q: %v", c.baseURL, err)}
	}
	if c.resolution <= 0 {
		return &ConfigError{Flag: "scan-period", Reason: "must be positive"}
	}
	return nil
}

func normalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if address == "" {
		return ""
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	return strings.TrimSuffix(address, "/")
}

// Resolution is the minimum interval between two fresh fetches of the same
// endpoint.
func (c *Client) Resolution() time.Duration {
	return c.resolution
}

// Login opens a new session on the device, replacing any prior one.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.login(ctx)
}

// login must be called with c.mu held.
func (c *Client) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("do_login", "True")
	form.Set("email", c.email)
	form.Set("passwd", c.password)
	c.usrl.encode(form, "usrl")
	c.usdt.encode(form, "usdt")
	c.tstmd.encode(form, "tstmd")

	req, err := c.newPostFormRequest(ctx, endpointLogin, form)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &AuthError{Address: c.baseURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &AuthError{Address: c.baseURL, Err: err}
	}

	var res types.LoginResponse
	if err := json.Unmarshal(body, &res); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode imeon login response", slog.Any("error", err), slog.String("body", string(body)))
		return &DecodeError{Endpoint: endpointLogin, Err: err}
	}
	c.tstmd.update(res.TSTMD)
	c.usdt.update(res.USDT)
	c.usrl.update(res.USRL)

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookie {
			c.session = cookie.Value
			log.Ctx(ctx).DebugContext(ctx, "imeon login success", slog.String("address", c.baseURL))
			return nil
		}
	}
	c.session = ""
	log.Ctx(ctx).WarnContext(ctx, "imeon login returned no session", slog.Int("status", resp.StatusCode))
	return &AuthError{Address: c.baseURL}
}

func (c *Client) endpointURL(endpoint Endpoint) (*url.URL, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, string(endpoint))
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) newPostFormRequest(ctx context.Context, endpoint Endpoint, data url.Values) (*http.Request, error) {
	u, err := c.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (c *Client) newGetRequest(ctx context.Context, endpoint Endpoint, params url.Values) (*http.Request, error) {
	u, err := c.endpointURL(endpoint)
	if err != nil {
		return nil, err
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: c.session})
	return req, nil
}

// FetchEndpoint returns the JSON payload of endpoint. A payload fetched with
// the same args less than a resolution ago is returned without touching the
// network.
func (c *Client) FetchEndpoint(ctx context.Context, endpoint Endpoint, args url.Values) (json.RawMessage, error) {
	return c.fetch(ctx, endpoint, args, true)
}

func (c *Client) fetch(ctx context.Context, endpoint Endpoint, args url.Values, useCache bool) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if useCache {
		if data, ok := c.cached(endpoint, args); ok {
			log.Ctx(ctx).DebugContext(ctx, "imeon cache hit", slog.String("endpoint", string(endpoint)))
			return data, nil
		}
	}

	if c.session == "" {
		if err := c.login(ctx); err != nil {
			return nil, err
		}
	}

	body, err := c.get(ctx, endpoint, args)
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		log.Ctx(ctx).ErrorContext(ctx, "imeon returned invalid JSON", slog.String("endpoint", string(endpoint)), slog.String("body", string(body)))
		return nil, &DecodeError{Endpoint: endpoint, Err: errNotJSON}
	}

	data := json.RawMessage(body)
	c.store(endpoint, args, data)
	return data, nil
}

// get performs the request at most twice: once with the current session and,
// if the device rejects it, once more after a fresh login. Must be called
// with c.mu held.
func (c *Client) get(ctx context.Context, endpoint Endpoint, args url.Values) ([]byte, error) {
	body, status, err := c.attempt(ctx, endpoint, args)
	if err != nil {
		return nil, err
	}
	if status == http.StatusOK {
		return body, nil
	}

	log.Ctx(ctx).DebugContext(ctx, "imeon request rejected, logging in again",
		slog.String("endpoint", string(endpoint)),
		slog.Int("status", status),
	)
	c.session = ""
	if err := c.login(ctx); err != nil {
		return nil, err
	}

	body, status, err = c.attempt(ctx, endpoint, args)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &RequestError{Endpoint: endpoint, StatusCode: status}
	}
	return body, nil
}

func (c *Client) attempt(ctx context.Context, endpoint Endpoint, args url.Values) ([]byte, int, error) {
	req, err := c.newGetRequest(ctx, endpoint, args)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, &RequestError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &RequestError{Endpoint: endpoint, Err: err}
	}
	return body, resp.StatusCode, nil
}
