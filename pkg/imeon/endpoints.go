package imeon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/imeonm/imeonm/pkg/types"
)

// Endpoint is the path of a device resource, relative to the device root.
type Endpoint string

const (
	EndpointScan          Endpoint = "scan"
	EndpointStatus        Endpoint = "imeon-status"
	EndpointUpdateStatus  Endpoint = "flash-firmware/get-update-status"
	EndpointData          Endpoint = "data"
	EndpointSoftStatus    Endpoint = "about/soft_status"
	EndpointBatteryStatus Endpoint = "battery-status"
	EndpointDataLithium   Endpoint = "data-lithium"

	endpointLogin Endpoint = "login"
)

const (
	// scanTimeArg is a per-call nonce and is ignored when matching cached scans
	scanTimeArg = "scan_time"
	singleArg   = "single"
)

func (c *Client) scanArgs(single bool) url.Values {
	args := url.Values{}
	args.Set(scanTimeArg, strconv.FormatInt(c.now().Unix(), 10))
	if single {
		args.Set(singleArg, "true")
	}
	return args
}

// Scan returns the telemetry snapshot. A cached scan younger than the
// resolution is returned regardless of its scan_time.
func (c *Client) Scan(ctx context.Context, single bool) (json.RawMessage, error) {
	return c.fetch(ctx, EndpointScan, c.scanArgs(single), true)
}

// RefreshScan always fetches a single-channel scan from the device. The
// result still replaces the cached scan.
func (c *Client) RefreshScan(ctx context.Context) (json.RawMessage, error) {
	return c.fetch(ctx, EndpointScan, c.scanArgs(true), false)
}

// Status returns the imeon-status payload.
func (c *Client) Status(ctx context.Context) (json.RawMessage, error) {
	return c.FetchEndpoint(ctx, EndpointStatus, nil)
}

// UpdateStatus returns the firmware update status.
func (c *Client) UpdateStatus(ctx context.Context) (json.RawMessage, error) {
	return c.FetchEndpoint(ctx, EndpointUpdateStatus, nil)
}

// Data returns the general data payload.
func (c *Client) Data(ctx context.Context) (json.RawMessage, error) {
	return c.FetchEndpoint(ctx, EndpointData, nil)
}

// SoftStatus returns the software status.
func (c *Client) SoftStatus(ctx context.Context) (json.RawMessage, error) {
	return c.FetchEndpoint(ctx, EndpointSoftStatus, nil)
}

// BatteryStatus returns the battery status.
func (c *Client) BatteryStatus(ctx context.Context) (json.RawMessage, error) {
	return c.FetchEndpoint(ctx, EndpointBatteryStatus, nil)
}

// DataLithium returns the lithium battery data.
func (c *Client) DataLithium(ctx context.Context) (json.RawMessage, error) {
	return c.FetchEndpoint(ctx, EndpointDataLithium, nil)
}

// DecodeScan unpacks a scan payload and returns its first channel. The other
// channels are left undecoded.
func DecodeScan(raw json.RawMessage) (types.ScanChannel, error) {
	var res types.ScanResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, &DecodeError{Endpoint: EndpointScan, Err: err}
	}
	if res.Val == nil {
		return nil, &DecodeError{Endpoint: EndpointScan, Err: errMissingVal}
	}
	if len(res.Val) == 0 {
		return nil, &DecodeError{Endpoint: EndpointScan, Err: errEmptyVal}
	}

	var ch types.ScanChannel
	if err := json.Unmarshal(res.Val[0], &ch); err != nil {
		return nil, &DecodeError{Endpoint: EndpointScan, Err: fmt.Errorf("%w: %v", errNotObject, err)}
	}
	if ch == nil {
		return nil, &DecodeError{Endpoint: EndpointScan, Err: errNotObject}
	}
	return ch, nil
}
