package exporter

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "imeon_"

// gaugeSet lazily creates one gauge per scan field. Only the poll loop
// touches the maps; scrapes read the gauges through the registry.
type gaugeSet struct {
	registerer prometheus.Registerer
	gauges     map[string]prometheus.Gauge
	// byName holds the gauges registered by this set, keyed by metric name
	byName map[string]prometheus.Gauge
}

func newGaugeSet(r prometheus.Registerer) *gaugeSet {
	return &gaugeSet{
		registerer: r,
		gauges:     make(map[string]prometheus.Gauge),
		byName:     make(map[string]prometheus.Gauge),
	}
}

// set creates or updates the gauge for field. Fields that sanitize to the
// same metric name share the gauge of whichever was seen first, and its help
// text is that field's raw name.
func (g *gaugeSet) set(field string, v float64) error {
	gauge, ok := g.gauges[field]
	if !ok {
		name := metricName(field)
		gauge, ok = g.byName[name]
		if !ok {
			gauge = prometheus.NewGauge(prometheus.GaugeOpts{
				Name: name,
				Help: field,
			})
			if err := g.registerer.Register(gauge); err != nil {
				return fmt.Errorf("failed to register gauge for %q: %w", field, err)
			}
			g.byName[name] = gauge
		}
		g.gauges[field] = gauge
	}
	gauge.Set(v)
	return nil
}

// metricName prefixes field and replaces anything that is not valid in a
// classic Prometheus metric name.
func metricName(field string) string {
	var b strings.Builder
	b.Grow(len(metricPrefix) + len(field))
	b.WriteString(metricPrefix)
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
