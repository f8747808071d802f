// Package kubo talks to a kubo (go-ipfs) node over its HTTP RPC API.
//
// Reads use /api/v0/cat, which works for raw and UnixFS ids alike. Writes use
// /api/v0/add with CIDv1 and raw leaves, so payloads that fit in one chunk get
// the same raw sha2-256 CID as cidutil computes locally.
package kubo

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/tidwall/gjson"

	"xdao.co/paylock/fabric"
)

const DefaultAPI = "http://127.0.0.1:5001"

// Node is both a fabric.Endpoint and a fabric.Ingress.
type Node struct {
	name     string
	api      string
	pin      bool
	client   *http.Client
	maxBytes int64
}

var (
	_ fabric.Endpoint = (*Node)(nil)
	_ fabric.Ingress  = (*Node)(nil)
)

type Options struct {
	// API is the RPC base URL. Defaults to DefaultAPI.
	API string
	// Pin asks the node to pin added content.
	Pin      bool
	Client   *http.Client
	MaxBytes int64
}

func New(name string, opts Options) (*Node, error) {
	api := opts.API
	if api == "" {
		api = DefaultAPI
	}
	u, err := url.Parse(api)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("kubo: invalid api url %q", api)
	}
	if name == "" {
		name = "kubo"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 512 << 20
	}
	return &Node{
		name:     name,
		api:      strings.TrimRight(u.String(), "/"),
		pin:      opts.Pin,
		client:   client,
		maxBytes: maxBytes,
	}, nil
}

func (n *Node) Name() string { return n.name }

func (n *Node) Get(ctx context.Context, id cid.Cid) (*fabric.Object, error) {
	if !id.Defined() {
		return nil, fabric.ErrInvalidCID
	}
	q := url.Values{"arg": {id.String()}}
	resp, err := n.post(ctx, "/api/v0/cat?"+q.Encode(), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, n.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > n.maxBytes {
		return nil, fmt.Errorf("kubo %s: response exceeds %d bytes", n.name, n.maxBytes)
	}
	return &fabric.Object{Data: body}, nil
}

func (n *Node) Put(ctx context.Context, data []byte, hint string) (cid.Cid, error) {
	if hint == "" {
		hint = "artifact"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", hint)
	if err != nil {
		return cid.Undef, err
	}
	if _, err := part.Write(data); err != nil {
		return cid.Undef, err
	}
	if err := w.Close(); err != nil {
		return cid.Undef, err
	}

	q := url.Values{
		"cid-version": {"1"},
		"raw-leaves":  {"true"},
		"pin":         {fmt.Sprint(n.pin)},
		"quieter":     {"true"},
	}
	resp, err := n.post(ctx, "/api/v0/add?"+q.Encode(), &buf, w.FormDataContentType())
	if err != nil {
		return cid.Undef, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return cid.Undef, err
	}
	// add streams one JSON object per line; the last one is the root.
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	hash := gjson.Get(lines[len(lines)-1], "Hash").String()
	if hash == "" {
		return cid.Undef, fmt.Errorf("kubo %s: add response missing Hash", n.name)
	}
	return cid.Decode(hash)
}

func (n *Node) post(ctx context.Context, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.api+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	text := gjson.GetBytes(msg, "Message").String()
	if text == "" {
		text = strings.TrimSpace(string(msg))
	}
	if isLikelyNotFound(text) {
		return nil, fabric.ErrNotFound
	}
	return nil, fmt.Errorf("kubo %s: status %d: %s", n.name, resp.StatusCode, text)
}

func isLikelyNotFound(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no link named")
}
