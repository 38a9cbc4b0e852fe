package types

import (
	"bytes"
	"encoding/json"
)

// HandshakeToken is one of the opaque tokens the device hands out on login
// and expects back on the next login. Devices send them as strings; anything
// else is kept in its raw JSON form.
type HandshakeToken string

// UnmarshalJSON implements json.Unmarshaler.
func (t *HandshakeToken) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = HandshakeToken(s)
		return nil
	}
	*t = HandshakeToken(bytes.TrimSpace(b))
	return nil
}

// LoginResponse is the JSON body returned by the device's /login endpoint.
// Each handshake token is nil when the device did not send it (or sent null),
// which is different from the device sending an empty string.
type LoginResponse struct {
	TSTMD *HandshakeToken `json:"TSTMD"`
	USDT  *HandshakeToken `json:"USDT"`
	USRL  *HandshakeToken `json:"USRL"`
}

// ScanChannel is one per-channel field set of a scan. Values are whatever
// JSON the device sent: float64 for numbers, nil for null.
type ScanChannel map[string]any

// ScanResult is the envelope returned by the scan endpoint. Channels are kept
// raw so that a malformed channel only fails when it is actually read.
type ScanResult struct {
	Val []json.RawMessage `json:"val"`
}
