package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/imeonm/imeonm/pkg/imeon"
	"github.com/levenlabs/go-lflag"
)

var dumpOptions = []struct {
	flag     string
	endpoint imeon.Endpoint
	usage    string
}{
	{"scan", imeon.EndpointScan, "Output raw scan data in JSON"},
	{"status", imeon.EndpointStatus, "Output raw status data in JSON"},
	{"update-status", imeon.EndpointUpdateStatus, "Output raw update status data in JSON"},
	{"data", imeon.EndpointData, "Output raw general data in JSON"},
	{"soft-status", imeon.EndpointSoftStatus, "Output raw software status in JSON"},
	{"battery-status", imeon.EndpointBatteryStatus, "Output raw battery status in JSON"},
	{"lithium-status", imeon.EndpointDataLithium, "Output raw lithium battery data in JSON"},
}

// dumps holds the one-shot raw output flags.
type dumps struct {
	flags     []string
	endpoints []imeon.Endpoint
}

func configuredDumps() *dumps {
	d := &dumps{}
	set := make([]*bool, len(dumpOptions))
	for i, o := range dumpOptions {
		set[i] = lflag.Bool(o.flag, false, o.usage)
	}

	lflag.Do(func() {
		for i, o := range dumpOptions {
			if *set[i] {
				d.flags = append(d.flags, o.flag)
				d.endpoints = append(d.endpoints, o.endpoint)
			}
		}
	})

	return d
}

// Validate ensures at most one raw output flag was set.
func (d *dumps) Validate() error {
	if len(d.flags) > 1 {
		return &imeon.ConfigError{
			Flag:   d.flags[1],
			Reason: fmt.Sprintf("only one raw output flag can be set, got --%s", strings.Join(d.flags, ", --")),
		}
	}
	return nil
}

func (d *dumps) endpoint() (imeon.Endpoint, bool) {
	if len(d.endpoints) == 0 {
		return "", false
	}
	return d.endpoints[0], true
}

func fetchRaw(ctx context.Context, c *imeon.Client, ep imeon.Endpoint) (json.RawMessage, error) {
	switch ep {
	case imeon.EndpointScan:
		return c.Scan(ctx, true)
	case imeon.EndpointStatus:
		return c.Status(ctx)
	case imeon.EndpointUpdateStatus:
		return c.UpdateStatus(ctx)
	case imeon.EndpointData:
		return c.Data(ctx)
	case imeon.EndpointSoftStatus:
		return c.SoftStatus(ctx)
	case imeon.EndpointBatteryStatus:
		return c.BatteryStatus(ctx)
	case imeon.EndpointDataLithium:
		return c.DataLithium(ctx)
	default:
		return nil, fmt.Errorf("unknown endpoint: %s", ep)
	}
}

// dump writes the endpoint's payload to w, indented by four spaces.
func dump(ctx context.Context, c *imeon.Client, ep imeon.Endpoint, w io.Writer) error {
	raw, err := fetchRaw(ctx, c, ep)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return &imeon.DecodeError{Endpoint: ep, Err: err}
	}
	buf.WriteByte('\n')
	_, err = buf.WriteTo(w)
	return err
}
