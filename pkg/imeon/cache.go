package imeon

import (
	"encoding/json"
	"net/url"
	"slices"
	"time"
)

type cacheEntry struct {
	args    url.Values
	fetched time.Time
	data    json.RawMessage
}

// cached returns the stored payload for endpoint if it was fetched with the
// same args less than a resolution ago. Must be called with c.mu held.
func (c *Client) cached(endpoint Endpoint, args url.Values) (json.RawMessage, bool) {
	e, ok := c.cache[endpoint]
	if !ok {
		return nil, false
	}
	if !argsEqual(endpoint, e.args, args) {
		return nil, false
	}
	if c.now().Sub(e.fetched) >= c.resolution {
		return nil, false
	}
	return e.data, true
}

// store overwrites the cache entry for endpoint. Must be called with c.mu held.
func (c *Client) store(endpoint Endpoint, args url.Values, data json.RawMessage) {
	if c.cache == nil {
		c.cache = make(map[Endpoint]cacheEntry)
	}
	c.cache[endpoint] = cacheEntry{
		args:    cloneValues(args),
		fetched: c.now(),
		data:    data,
	}
}

// argsEqual compares request arguments. The scan nonce is skipped for the
// scan endpoint; every other key has to match exactly.
func argsEqual(endpoint Endpoint, a, b url.Values) bool {
	ignored := func(k string) bool {
		return endpoint == EndpointScan && k == scanTimeArg
	}
	for k, av := range a {
		if ignored(k) {
			continue
		}
		bv, ok := b[k]
		if !ok || !slices.Equal(av, bv) {
			return false
		}
	}
	for k := range b {
		if ignored(k) {
			continue
		}
		if _, ok := a[k]; !ok {
			return false
		}
	}
	return true
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = slices.Clone(vs)
	}
	return out
}
