// Package client is the upstream consumer API (spec §6): it composes a
// transport.Transport with CBOR encode/decode so callers work in terms of
// YANG paths and values rather than raw CoAP/MUP1 bytes.
package client

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/hwkim3330/keti-tsn-cli-ui-sub001/internal/transport"
)

// Patch is a single path/value pair to merge via iPATCH.
type Patch struct {
	Path  string `cbor:"path"`
	Value any    `cbor:"value"`
}

// PatchReport is the per-patch outcome of a Patch call.
type PatchReport struct {
	Path string
	Err  error
}

// GetResult is the outcome of a full-datastore Get.
type GetResult struct {
	Bytes   []byte
	Count   int
	Decoded any
}

// Client is the high-level facade surrounding a single transport.
type Client struct {
	t    transport.Transport
	opts transport.RequestOptions
}

// New wraps t with default request options (spec §4.3 defaults).
func New(t transport.Transport) *Client {
	return &Client{t: t, opts: transport.NewRequestOptions()}
}

// WithOptions returns a copy of the client using opts for every request it
// issues instead of the package defaults.
func (c *Client) WithOptions(opts transport.RequestOptions) *Client {
	return &Client{t: c.t, opts: opts}
}

// Fetch builds a FETCH query from paths, applies block-wise download
// automatically, and decodes the CBOR response.
func (c *Client) Fetch(ctx context.Context, paths []string) (any, error) {
	query, err := cbor.Marshal(paths)
	if err != nil {
		return nil, fmt.Errorf("client: encode fetch query: %w", err)
	}

	resp, err := c.t.Fetch(ctx, query, c.opts)
	if err != nil {
		return nil, err
	}

	var decoded any
	if len(resp.Payload) > 0 {
		if err := cbor.Unmarshal(resp.Payload, &decoded); err != nil {
			return nil, fmt.Errorf("client: decode fetch response: %w", err)
		}
	}
	return decoded, nil
}

// Patch sends one iPATCH request per entry in patches and aggregates the
// per-patch outcome; a single entry's failure does not abort the remaining
// entries.
func (c *Client) Patch(ctx context.Context, patches []Patch) []PatchReport {
	reports := make([]PatchReport, 0, len(patches))
	for _, p := range patches {
		body, err := cbor.Marshal([]Patch{p})
		if err != nil {
			reports = append(reports, PatchReport{Path: p.Path, Err: fmt.Errorf("client: encode patch: %w", err)})
			continue
		}
		_, err = c.t.Patch(ctx, body, c.opts)
		reports = append(reports, PatchReport{Path: p.Path, Err: err})
	}
	return reports
}

// Put performs a full-resource-replacement PUT with payload marshaled to CBOR.
func (c *Client) Put(ctx context.Context, payload any) error {
	body, err := cbor.Marshal(payload)
	if err != nil {
		return fmt.Errorf("client: encode put payload: %w", err)
	}
	_, err = c.t.Put(ctx, body, c.opts)
	return err
}

// Get retrieves the full datastore via block-wise GET and decodes it as CBOR.
func (c *Client) Get(ctx context.Context) (*GetResult, error) {
	resp, err := c.t.Get(ctx, c.opts)
	if err != nil {
		return nil, err
	}

	res := &GetResult{Bytes: resp.Payload, Count: len(resp.Payload)}
	if len(resp.Payload) > 0 {
		var decoded any
		if err := cbor.Unmarshal(resp.Payload, &decoded); err != nil {
			return nil, fmt.Errorf("client: decode get response: %w", err)
		}
		res.Decoded = decoded
	}
	return res, nil
}
