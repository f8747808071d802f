// Package pinning publishes through a Pinata-compatible pinning service.
package pinning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// DefaultURL is the Pinata file pinning endpoint.
const DefaultURL = "https://api.pinata.cloud/pinning/pinFileToIPFS"

// Ingress uploads files as multipart form data and returns the pinned CID.
type Ingress struct {
	name   string
	url    string
	jwt    string
	client *http.Client
}

type Options struct {
	// URL defaults to DefaultURL.
	URL string
	// JWT is sent as a bearer token.
	JWT    string
	Client *http.Client
}

func New(name string, opts Options) (*Ingress, error) {
	if strings.TrimSpace(opts.JWT) == "" {
		return nil, errors.New("pinning: missing JWT")
	}
	if name == "" {
		name = "pinning"
	}
	u := opts.URL
	if u == "" {
		u = DefaultURL
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Ingress{name: name, url: u, jwt: strings.TrimSpace(opts.JWT), client: client}, nil
}

func (i *Ingress) Name() string { return i.name }

func (i *Ingress) Put(ctx context.Context, data []byte, hint string) (cid.Cid, error) {
	if hint == "" {
		hint = "artifact"
	}
	body, contentType, err := form(data, hint)
	if err != nil {
		return cid.Undef, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.url, body)
	if err != nil {
		return cid.Undef, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+i.jwt)

	resp, err := i.client.Do(req)
	if err != nil {
		return cid.Undef, err
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return cid.Undef, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return cid.Undef, fmt.Errorf("pinning %s: status %d: %s", i.name, resp.StatusCode, strings.TrimSpace(string(out)))
	}
	hash := gjson.GetBytes(out, "IpfsHash").String()
	if hash == "" {
		return cid.Undef, fmt.Errorf("pinning %s: response missing IpfsHash", i.name)
	}
	id, err := cid.Decode(hash)
	if err != nil {
		return cid.Undef, fmt.Errorf("pinning %s: bad IpfsHash %q: %w", i.name, hash, err)
	}
	return id, nil
}

func form(data []byte, hint string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", hint)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}

	meta, err := sjson.Set(`{}`, "name", hint)
	if err != nil {
		return nil, "", err
	}
	if err := w.WriteField("pinataMetadata", meta); err != nil {
		return nil, "", err
	}
	if err := w.WriteField("pinataOptions", `{"cidVersion":1}`); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
