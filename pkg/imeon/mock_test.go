package imeon

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/imeonm/imeonm/pkg/common"
	"github.com/imeonm/imeonm/pkg/log"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

// fakeDevice emulates the control panel of an IMEON device.
type fakeDevice struct {
	t *testing.T

	mu         sync.Mutex
	logins     int
	loginForms []url.Values
	loginBody  string
	noSession  bool
	session    string
	requests   map[string]int
	queries    map[string][]url.Values
	bodies     map[string]string
	// reject answers the next N endpoint requests with 401
	reject int
}

func newFakeDevice(t *testing.T) (*fakeDevice, *httptest.Server) {
	d := &fakeDevice{
		t:         t,
		loginBody: "{}",
		requests:  make(map[string]int),
		queries:   make(map[string][]url.Values),
		bodies:    make(map[string]string),
	}
	ts := httptest.NewServer(d)
	t.Cleanup(ts.Close)
	return d, ts
}

func (d *fakeDevice) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	assert.Equal(d.t, common.UserAgent(), r.Header.Get("User-Agent"), "%s %s", r.Method, r.URL.Path)

	if r.URL.Path == "/login" {
		assert.Equal(d.t, "POST", r.Method)
		assert.NoError(d.t, r.ParseForm())
		d.logins++
		d.loginForms = append(d.loginForms, r.PostForm)
		if !d.noSession {
			d.session = fmt.Sprintf("sess-%d", d.logins)
			http.SetCookie(w, &http.Cookie{Name: "session", Value: d.session})
		}
		w.Write([]byte(d.loginBody))
		return
	}

	assert.Equal(d.t, "GET", r.Method)
	d.requests[r.URL.Path]++
	d.queries[r.URL.Path] = append(d.queries[r.URL.Path], r.URL.Query())

	if d.reject > 0 {
		d.reject--
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	cookie, err := r.Cookie("session")
	if err != nil || d.session == "" || cookie.Value != d.session {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, ok := d.bodies[r.URL.Path]
	if !ok {
		body = `{"ok": true}`
	}
	w.Write([]byte(body))
}

func (d *fakeDevice) count(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[path]
}

func (d *fakeDevice) loginCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logins
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClient(ts *httptest.Server, clock *fakeClock) *Client {
	return &Client{
		client:     common.WrapClient(ts.Client()),
		baseURL:    ts.URL,
		email:      defaultEmail,
		password:   defaultPassword,
		resolution: time.Minute,
		now:        clock.Now,
		cache:      make(map[Endpoint]cacheEntry),
	}
}
