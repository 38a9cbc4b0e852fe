package common

import (
	_ "embed"
	"net/http"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// Version returns the embedded release version.
func Version() string {
	return strings.TrimSpace(version)
}

// UserAgent is sent with every request made to the device.
func UserAgent() string {
	return "imeonm/" + Version()
}

type userAgentTransport struct {
	transport http.RoundTripper
	userAgent string
}

// RoundTrip implements http.RoundTripper and stamps the user agent on a clone
// of the request.
func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// the caller may reuse req for a retry so leave its headers alone
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return t.transport.RoundTrip(req)
}

// HTTPClient returns an http client with our user-agent set. The device's
// control panel can wedge during firmware updates so callers should always
// pass a non-zero timeout.
func HTTPClient(timeout time.Duration) *http.Client {
	return WrapClient(&http.Client{
		Transport: http.DefaultTransport,
		Timeout:   timeout,
	})
}

// WrapClient returns a copy of c whose transport sets our user-agent. It is
// used in tests to wrap the client returned by httptest.
func WrapClient(c *http.Client) *http.Client {
	transport := c.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &http.Client{
		Transport: &userAgentTransport{
			transport: transport,
			userAgent: UserAgent(),
		},
		Jar:     c.Jar,
		Timeout: c.Timeout,
	}
}
