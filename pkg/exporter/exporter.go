package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/imeonm/imeonm/pkg/imeon"
	"github.com/imeonm/imeonm/pkg/log"
	"github.com/imeonm/imeonm/pkg/types"
	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultPort = 13371

	// timestampField is the device clock and is not worth exporting
	timestampField = "timestamp"

	// maxErrors is how many failed scans are tolerated over the life of the
	// process before the exporter gives up
	maxErrors = 100
)

// ErrTooManyErrors is returned by Run once more than maxErrors scans failed.
var ErrTooManyErrors = errors.New("maximum attempts reached in prometheus exporter: too many errors")

// Device is the part of the IMEON client polled by the exporter.
type Device interface {
	RefreshScan(ctx context.Context) (json.RawMessage, error)
	Resolution() time.Duration
}

// Exporter polls the device's scan endpoint and serves every numeric field
// as an imeon_<field> gauge.
type Exporter struct {
	device     Device
	enabled    bool
	port       int
	listenAddr string
	addr       net.Addr

	registry   *prometheus.Registry
	gauges     *gaugeSet
	scanErrors prometheus.Counter
	lastScan   prometheus.Gauge

	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an exporter for device that will listen on listenAddr.
func New(device Device, listenAddr string) *Exporter {
	e := &Exporter{
		device:     device,
		enabled:    true,
		listenAddr: listenAddr,
		registry:   prometheus.NewRegistry(),
		scanErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imeonm_scan_errors_total",
			Help: "Number of scans that failed to be fetched or unpacked.",
		}),
		lastScan: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imeonm_last_scan_timestamp_seconds",
			Help: "Unix time of the last successfully exported scan.",
		}),
		sleep: sleepContext,
	}
	e.gauges = newGaugeSet(e.registry)
	e.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		e.scanErrors,
		e.lastScan,
	)
	return e
}

// Configured registers the exporter flags and returns an exporter that is
// filled in once flags are parsed.
func Configured(device Device) *Exporter {
	e := New(device, "")
	enabled := lflag.Bool("prometheus-exporter", false, "Enable the prometheus exporter")
	port := lflag.Int("prometheus-exporter-port", defaultPort, "Port on which to run the prometheus exporter")

	lflag.Do(func() {
		e.enabled = *enabled
		e.port = *port
		e.listenAddr = ":" + strconv.Itoa(*port)
	})

	return e
}

// Validate ensures the configuration is valid.
func (e *Exporter) Validate() error {
	if e.enabled && (e.port < 0 || e.port > 65535) {
		return &imeon.ConfigError{Flag: "prometheus-exporter-port", Reason: fmt.Sprintf("%d is not a valid port", e.port)}
	}
	return nil
}

// Enabled returns true if --prometheus-exporter was set.
func (e *Exporter) Enabled() bool {
	return e.enabled
}

// Handler serves the registry. /healthz is answered separately and every
// other path serves the metrics.
func (e *Exporter) Handler() http.Handler {
	metrics := gziphandler.GzipHandler(promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{
		ErrorLog:           slog.NewLogLogger(log.Ctx(context.Background()).Handler(), slog.LevelError),
		ErrorHandling:      promhttp.ContinueOnError,
		DisableCompression: true,
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.Handle("/metrics", metrics)
	mux.Handle("/", metrics)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

// Run serves the metrics endpoint and polls the device until the context is
// canceled or too many scans failed.
func (e *Exporter) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", e.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", e.listenAddr, err)
	}
	e.addr = ln.Addr()

	httpServer := &http.Server{
		Handler:      e.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		log.Ctx(ctx).InfoContext(ctx, "started IMEON prometheus exporter", slog.String("addr", e.addr.String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel(fmt.Errorf("server error: %w", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "exporter shutdown failed", slog.Any("error", err))
		}
	}()

	if err := e.poll(ctx); err != nil {
		return err
	}
	cause := context.Cause(ctx)
	if cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		return cause
	}
	return nil
}

// poll scans the device every resolution. Failed scans are logged and
// counted, and the loop only gives up once the count goes over maxErrors.
// The count is never reset.
func (e *Exporter) poll(ctx context.Context) error {
	var errCount int
	for {
		if err := e.scan(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			errCount++
			e.scanErrors.Inc()
			log.Ctx(ctx).ErrorContext(ctx, "imeon scan failed", slog.Any("error", err), slog.Int("errors", errCount))
			if errCount > maxErrors {
				return fmt.Errorf("%w (%d errors)", ErrTooManyErrors, errCount)
			}
		}

		if err := e.sleep(ctx, e.device.Resolution()); err != nil {
			return nil
		}
	}
}

func (e *Exporter) scan(ctx context.Context) error {
	raw, err := e.device.RefreshScan(ctx)
	if err != nil {
		return err
	}
	ch, err := imeon.DecodeScan(raw)
	if err != nil {
		return err
	}
	if err := e.unpack(ctx, ch); err != nil {
		return err
	}
	e.lastScan.SetToCurrentTime()
	return nil
}

// unpack sets a gauge for every numeric field of ch. Nulls, strings, bools
// and nested values are skipped, zero is not.
func (e *Exporter) unpack(ctx context.Context, ch types.ScanChannel) error {
	keys := make([]string, 0, len(ch))
	for k := range ch {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var errs []error
	for _, k := range keys {
		if k == timestampField {
			continue
		}
		v, ok := ch[k].(float64)
		if !ok {
			continue
		}
		if err := e.gauges.set(k, v); err != nil {
			errs = append(errs, err)
			continue
		}
		log.Ctx(ctx).DebugContext(ctx, "imeon field", slog.String("field", k), slog.Float64("value", v))
	}
	return errors.Join(errs...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
