package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/imeonm/imeonm/pkg/imeon"
	"github.com/imeonm/imeonm/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

type stubRunner struct {
	enabled bool
	runs    int
}

func (s *stubRunner) Enabled() bool {
	return s.enabled
}

func (s *stubRunner) Run(ctx context.Context) error {
	s.runs++
	return nil
}

type fakeDevice struct {
	mu       sync.Mutex
	bodies   map[string]string
	requests map[string][]*http.Request
	status   int
}

func newFakeDevice(t *testing.T) (*fakeDevice, *imeon.Client) {
	d := &fakeDevice{
		bodies:   make(map[string]string),
		requests: make(map[string][]*http.Request),
		status:   http.StatusOK,
	}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if r.URL.Path == "/login" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
			w.Write([]byte(`{}`))
			return
		}
		d.requests[r.URL.Path] = append(d.requests[r.URL.Path], r)
		if d.status != http.StatusOK {
			http.Error(w, "error", d.status)
			return
		}
		w.Write([]byte(d.bodies[r.URL.Path]))
	}))
	t.Cleanup(ts.Close)

	c, err := imeon.NewClient(ts.URL, time.Minute)
	require.NoError(t, err)
	return d, c
}

func TestRunDump(t *testing.T) {
	ctx := context.Background()

	t.Run("Status", func(t *testing.T) {
		dev, c := newFakeDevice(t)
		dev.bodies["/imeon-status"] = `{"status":"ok","battery":{"soc":81}}`
		exp := &stubRunner{enabled: true}
		var out bytes.Buffer

		err := run(ctx, c, exp, &dumps{flags: []string{"status"}, endpoints: []imeon.Endpoint{imeon.EndpointStatus}}, &out)
		require.NoError(t, err)

		want := "{\n    \"status\": \"ok\",\n    \"battery\": {\n        \"soc\": 81\n    }\n}\n"
		assert.Equal(t, want, out.String())
		assert.Zero(t, exp.runs, "the exporter should not start after a dump")
	})

	t.Run("Scan Is Single", func(t *testing.T) {
		dev, c := newFakeDevice(t)
		dev.bodies["/scan"] = `{"val":[{"a":1}]}`
		var out bytes.Buffer

		err := run(ctx, c, &stubRunner{}, &dumps{flags: []string{"scan"}, endpoints: []imeon.Endpoint{imeon.EndpointScan}}, &out)
		require.NoError(t, err)

		require.Len(t, dev.requests["/scan"], 1)
		assert.Equal(t, "true", dev.requests["/scan"][0].URL.Query().Get("single"))
		assert.NotEmpty(t, dev.requests["/scan"][0].URL.Query().Get("scan_time"))
		assert.Contains(t, out.String(), `"a": 1`)
	})

	t.Run("Every Endpoint", func(t *testing.T) {
		for _, o := range dumpOptions {
			dev, c := newFakeDevice(t)
			dev.bodies["/"+string(o.endpoint)] = `{"ok":true}`
			var out bytes.Buffer

			err := dump(ctx, c, o.endpoint, &out)
			require.NoError(t, err, o.flag)
			assert.Len(t, dev.requests["/"+string(o.endpoint)], 1, o.flag)
			assert.Equal(t, "{\n    \"ok\": true\n}\n", out.String(), o.flag)
		}
	})

	t.Run("Request Error", func(t *testing.T) {
		dev, c := newFakeDevice(t)
		dev.status = http.StatusInternalServerError
		var out bytes.Buffer

		err := run(ctx, c, &stubRunner{}, &dumps{flags: []string{"data"}, endpoints: []imeon.Endpoint{imeon.EndpointData}}, &out)
		var rerr *imeon.RequestError
		require.ErrorAs(t, err, &rerr)
		assert.Equal(t, imeon.EndpointData, rerr.Endpoint)
		assert.Empty(t, out.String())
	})
}

func TestRunExporter(t *testing.T) {
	_, c := newFakeDevice(t)
	exp := &stubRunner{enabled: true}

	require.NoError(t, run(context.Background(), c, exp, &dumps{}, &bytes.Buffer{}))
	assert.Equal(t, 1, exp.runs)

	exp = &stubRunner{}
	require.NoError(t, run(context.Background(), c, exp, &dumps{}, &bytes.Buffer{}))
	assert.Zero(t, exp.runs)
}

func TestDumpsValidate(t *testing.T) {
	assert.NoError(t, (&dumps{}).Validate())
	assert.NoError(t, (&dumps{flags: []string{"data"}, endpoints: []imeon.Endpoint{imeon.EndpointData}}).Validate())

	d := &dumps{
		flags:     []string{"scan", "status"},
		endpoints: []imeon.Endpoint{imeon.EndpointScan, imeon.EndpointStatus},
	}
	var cerr *imeon.ConfigError
	require.ErrorAs(t, d.Validate(), &cerr)
	assert.Equal(t, "status", cerr.Flag)
}
