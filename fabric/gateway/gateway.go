// Package gateway reads content through public IPFS path gateways.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ipfs/go-cid"

	"xdao.co/paylock/fabric"
)

// DefaultGateways is the public gateway order used when nothing is configured.
var DefaultGateways = []string{
	"https://gateway.pinata.cloud",
	"https://cloudflare-ipfs.com",
	"https://ipfs.io",
	"https://dweb.link",
	"https://w3s.link",
}

// DefaultMaxBytes bounds a single response body.
const DefaultMaxBytes int64 = 512 << 20

var errTooLarge = errors.New("gateway: response exceeds size limit")

// Endpoint fetches /ipfs/<cid> from a single gateway.
type Endpoint struct {
	name     string
	base     string
	client   *http.Client
	maxBytes int64
}

type Options struct {
	// Client defaults to a dedicated client. Per-request deadlines come from ctx.
	Client *http.Client
	// MaxBytes bounds the response body. Zero means DefaultMaxBytes.
	MaxBytes int64
}

func New(name, baseURL string, opts Options) (*Endpoint, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway: invalid base url %q", baseURL)
	}
	if name == "" {
		name = u.Host
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Endpoint{
		name:     name,
		base:     strings.TrimRight(u.String(), "/"),
		client:   client,
		maxBytes: maxBytes,
	}, nil
}

func (e *Endpoint) Name() string { return e.name }

func (e *Endpoint) Get(ctx context.Context, id cid.Cid) (*fabric.Object, error) {
	if !id.Defined() {
		return nil, fabric.ErrInvalidCID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.base+"/ipfs/"+id.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fabric.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("gateway %s: status %d", e.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > e.maxBytes {
		return nil, errTooLarge
	}
	return &fabric.Object{Data: body, ContentType: resp.Header.Get("Content-Type")}, nil
}
