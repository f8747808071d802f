package fabric

import (
	"context"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"xdao.co/paylock/cidutil"
)

// Metadata is the preview document published next to an encrypted artifact.
type Metadata struct {
	Name        string
	Description string
	// Image is a bare CID string for the preview image.
	Image       string
	ContentType string
	// KeyFingerprint is vault.Key.Fingerprint of the artifact key, if published.
	KeyFingerprint string

	// Legacy is set when the reference did not resolve to a JSON document and
	// is used directly as the preview asset.
	Legacy bool
}

// ResolveMetadata fetches ref as JSON and parses it. When the body is not a
// JSON object, ref itself is treated as the image (older listings pointed
// straight at an image). It returns nil when ref cannot be fetched at all.
func (f *Fabric) ResolveMetadata(ctx context.Context, ref string) *Metadata {
	id, err := ParseRef(ref)
	if err != nil {
		log.Debugw("metadata ref rejected", "ref", ref, "err", err)
		return nil
	}
	key := id.String()
	if m, ok := f.meta.Get(key); ok {
		return m
	}
	data, err := f.FetchCID(ctx, id, KindJSON)
	if err != nil {
		log.Debugw("metadata unavailable", "cid", key, "err", err)
		return nil
	}
	m := ParseMetadata(key, data)
	f.meta.Add(key, m)
	return m
}

// ParseMetadata parses a metadata document fetched for ref.
func ParseMetadata(ref string, data []byte) *Metadata {
	if !gjson.ValidBytes(data) {
		return &Metadata{Image: cidutil.TrimRef(ref), Legacy: true}
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return &Metadata{Image: cidutil.TrimRef(ref), Legacy: true}
	}
	return &Metadata{
		Name:           doc.Get("name").String(),
		Description:    doc.Get("description").String(),
		Image:          cidutil.TrimRef(doc.Get("image").String()),
		ContentType:    doc.Get("contentType").String(),
		KeyFingerprint: doc.Get("keyFingerprint").String(),
	}
}

// BuildMetadata renders m as the JSON document sellers publish as a preview
// reference. Empty fields are omitted; image is written as an ipfs:// URI.
func BuildMetadata(m Metadata) ([]byte, error) {
	doc := []byte(`{}`)
	set := func(path, value string) error {
		if value == "" {
			return nil
		}
		var err error
		doc, err = sjson.SetBytes(doc, path, value)
		return err
	}
	image := ""
	if m.Image != "" {
		image = "ipfs://" + cidutil.TrimRef(m.Image)
	}
	for _, kv := range [][2]string{
		{"name", m.Name},
		{"description", m.Description},
		{"image", image},
		{"contentType", m.ContentType},
		{"keyFingerprint", m.KeyFingerprint},
	} {
		if err := set(kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return doc, nil
}
