package fabric

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"xdao.co/paylock/cidutil"
)

type fakeEndpoint struct {
	name  string
	calls atomic.Int32
	get   func(ctx context.Context, id cid.Cid) (*Object, error)
}

func (e *fakeEndpoint) Name() string { return e.name }

func (e *fakeEndpoint) Get(ctx context.Context, id cid.Cid) (*Object, error) {
	e.calls.Add(1)
	return e.get(ctx, id)
}

func serve(name string, body []byte, contentType string) *fakeEndpoint {
	return &fakeEndpoint{name: name, get: func(context.Context, cid.Cid) (*Object, error) {
		return &Object{Data: body, ContentType: contentType}, nil
	}}
}

func failing(name string, err error) *fakeEndpoint {
	return &fakeEndpoint{name: name, get: func(context.Context, cid.Cid) (*Object, error) {
		return nil, err
	}}
}

func hanging(name string) *fakeEndpoint {
	return &fakeEndpoint{name: name, get: func(ctx context.Context, _ cid.Cid) (*Object, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

// unixfsCID returns a dag-pb CID, which cannot be checked against file bytes.
func unixfsCID(t *testing.T, seed string) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum([]byte(seed), multihash.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.DagProtobuf, mh)
}

func rawCID(t *testing.T, data []byte) cid.Cid {
	t.Helper()
	id, err := cidutil.CIDv1RawSHA256CID(data)
	require.NoError(t, err)
	return id
}

func newFabric(t *testing.T, opts Options) *Fabric {
	t.Helper()
	f, err := New(opts)
	require.NoError(t, err)
	return f
}

const htmlPage = "<!DOCTYPE html><html><head><title>504 Gateway Time-out</title></head><body>not found</body></html>"

func TestFetch_SkipsHTMLPages(t *testing.T) {
	payload := []byte{0x9f, 0x01, 0x02, 0x03, 0x04, 0xfe, 0xfd}
	eps := []*fakeEndpoint{
		serve("declared-html", []byte(htmlPage), "text/html; charset=utf-8"),
		serve("sniffed-html", []byte(htmlPage), "application/octet-stream"),
		serve("good", payload, "application/octet-stream"),
	}
	f := newFabric(t, Options{Endpoints: []Endpoint{eps[0], eps[1], eps[2]}})

	got, err := f.Fetch(context.Background(), "ipfs://"+unixfsCID(t, "artifact").String(), KindBinary)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	for _, ep := range eps {
		require.EqualValues(t, 1, ep.calls.Load(), ep.name)
	}
}

func TestFetch_RawCIDVerifiesBytes(t *testing.T) {
	payload := []byte("encrypted bytes")
	id := rawCID(t, payload)

	wrong := serve("wrong", []byte("different bytes"), "")
	html := serve("html", []byte(htmlPage), "text/html")
	good := serve("good", payload, "text/html") // verified bytes win over a bad header
	f := newFabric(t, Options{Endpoints: []Endpoint{wrong, html, good}})

	got, err := f.Fetch(context.Background(), id.String(), KindBinary)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFetch_AllEndpointsFailed(t *testing.T) {
	f := newFabric(t, Options{Endpoints: []Endpoint{
		failing("a", errors.New("connection refused")),
		failing("b", ErrNotFound),
		serve("c", nil, ""),
		serve("d", []byte(htmlPage), "text/html"),
	}})
	_, err := f.Fetch(context.Background(), unixfsCID(t, "x").String(), KindBinary)
	require.ErrorIs(t, err, ErrAllEndpointsFailed)
}

func TestFetch_TimesOutPerEndpoint(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	payload := []byte("late but fine")
	slow1, slow2 := hanging("slow1"), hanging("slow2")
	good := serve("good", payload, "")
	f := newFabric(t, Options{
		Endpoints:    []Endpoint{slow1, slow2, good},
		FetchTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	got, err := f.Fetch(context.Background(), rawCID(t, payload).String(), KindBinary)
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.Less(t, time.Since(start), 2*time.Second)

	f = newFabric(t, Options{Endpoints: []Endpoint{hanging("only")}, FetchTimeout: 20 * time.Millisecond})
	_, err = f.Fetch(context.Background(), rawCID(t, payload).String(), KindBinary)
	require.ErrorIs(t, err, ErrAllEndpointsFailed)
}

func TestFetch_ParentCancelStopsWalk(t *testing.T) {
	ep := serve("never", []byte("x"), "")
	f := newFabric(t, Options{Endpoints: []Endpoint{ep}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Fetch(ctx, unixfsCID(t, "x").String(), KindBinary)
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 0, ep.calls.Load())
}

func TestFetch_InvalidReferenceBeforeIO(t *testing.T) {
	ep := serve("counting", []byte("x"), "")
	f := newFabric(t, Options{Endpoints: []Endpoint{ep}})
	for _, ref := range []string{
		"",
		`{"name":"oops","image":"ipfs://bafy"}`,
		"https%3A%2F%2Fgw%2F%7B%22name%22%7D",
		"not a cid",
	} {
		_, err := f.Fetch(context.Background(), ref, KindJSON)
		require.ErrorIs(t, err, ErrInvalidReference, ref)
	}
	require.EqualValues(t, 0, ep.calls.Load())
}

func TestFetch_MetricsAndCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	payload := []byte("cache me")
	cache := &memCache{}
	f := newFabric(t, Options{
		Endpoints: []Endpoint{failing("down", errors.New("boom")), serve("up", payload, "")},
		Cache:     cache,
		Metrics:   m,
	})
	id := rawCID(t, payload)
	_, err = f.FetchCID(context.Background(), id, KindBinary)
	require.NoError(t, err)

	require.Equal(t, 1.0, testutil.ToFloat64(m.fetchAttempts.WithLabelValues("down", resultError)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.fetchAttempts.WithLabelValues("up", resultOK)))
	require.Equal(t, payload, cache.get(id))
}

type memCache struct {
	mu sync.Mutex
	m  map[cid.Cid][]byte
}

func (c *memCache) Keep(_ context.Context, id cid.Cid, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = map[cid.Cid][]byte{}
	}
	c.m[id] = append([]byte(nil), data...)
	return nil
}

func (c *memCache) get(id cid.Cid) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[id]
}

func TestResolveMetadata(t *testing.T) {
	doc, err := BuildMetadata(Metadata{
		Name:           "Sunset Pack",
		Description:    "12 RAW photos",
		Image:          "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy",
		ContentType:    "application/zip",
		KeyFingerprint: "ab12",
	})
	require.NoError(t, err)

	metaID := rawCID(t, doc)
	ep := serve("gw", doc, "application/json")
	f := newFabric(t, Options{Endpoints: []Endpoint{ep}})

	m := f.ResolveMetadata(context.Background(), "ipfs://"+metaID.String())
	require.NotNil(t, m)
	require.False(t, m.Legacy)
	require.Equal(t, "Sunset Pack", m.Name)
	require.Equal(t, "12 RAW photos", m.Description)
	require.Equal(t, "bafkreigh2akiscaildcqabsyg3dfr6chu3fgpregiymsck7e7aqa4s52zy", m.Image)
	require.Equal(t, "application/zip", m.ContentType)
	require.Equal(t, "ab12", m.KeyFingerprint)

	// Immutable content: the second lookup is served from memory.
	require.Same(t, m, f.ResolveMetadata(context.Background(), metaID.String()))
	require.EqualValues(t, 1, ep.calls.Load())
}

func TestResolveMetadata_LegacyImage(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 16)...)
	id := rawCID(t, png)
	f := newFabric(t, Options{Endpoints: []Endpoint{serve("gw", png, "image/png")}})

	m := f.ResolveMetadata(context.Background(), id.String())
	require.NotNil(t, m)
	require.True(t, m.Legacy)
	require.Equal(t, id.String(), m.Image)
}

func TestResolveMetadata_Unavailable(t *testing.T) {
	f := newFabric(t, Options{Endpoints: []Endpoint{failing("gw", ErrNotFound)}})
	require.Nil(t, f.ResolveMetadata(context.Background(), unixfsCID(t, "gone").String()))
	require.Nil(t, f.ResolveMetadata(context.Background(), `{"name":"x"}`))
}

type fakeIngress struct {
	name     string
	failures int
	calls    atomic.Int32
	put      func(data []byte) (cid.Cid, error)
}

func (i *fakeIngress) Name() string { return i.name }

func (i *fakeIngress) Put(_ context.Context, data []byte, _ string) (cid.Cid, error) {
	n := int(i.calls.Add(1))
	if n <= i.failures {
		return cid.Undef, errors.New("503 service unavailable")
	}
	if i.put != nil {
		return i.put(data)
	}
	return cidutil.CIDv1RawSHA256CID(data)
}

func TestPublish_RetriesTransientFailures(t *testing.T) {
	ing := &fakeIngress{name: "pin", failures: 2}
	cache := &memCache{}
	f := newFabric(t, Options{Ingress: ing, Cache: cache, PublishRetries: 2, RetryInterval: time.Millisecond})

	blob := []byte("ciphertext")
	ref, err := f.Publish(context.Background(), blob, "item.enc")
	require.NoError(t, err)
	require.Equal(t, cidutil.CIDv1RawSHA256(blob), ref)
	require.EqualValues(t, 3, ing.calls.Load())
	require.Equal(t, blob, cache.get(rawCID(t, blob)))

	again, err := f.Publish(context.Background(), blob, "item.enc")
	require.NoError(t, err)
	require.Equal(t, ref, again)
}

func TestPublish_Failures(t *testing.T) {
	ing := &fakeIngress{name: "pin", failures: 100}
	f := newFabric(t, Options{Ingress: ing, PublishRetries: 1, RetryInterval: time.Millisecond})
	_, err := f.Publish(context.Background(), []byte("x"), "x")
	require.ErrorIs(t, err, ErrPublishFailed)
	require.EqualValues(t, 2, ing.calls.Load())

	_, err = f.Publish(context.Background(), nil, "empty")
	require.ErrorIs(t, err, ErrPublishFailed)

	lying := &fakeIngress{name: "lying", put: func([]byte) (cid.Cid, error) {
		return cidutil.CIDv1RawSHA256CID([]byte("something else"))
	}}
	f = newFabric(t, Options{Ingress: lying})
	_, err = f.Publish(context.Background(), []byte("x"), "x")
	require.ErrorIs(t, err, ErrPublishFailed)

	readOnly := newFabric(t, Options{Endpoints: []Endpoint{serve("gw", []byte("x"), "")}})
	_, err = readOnly.Publish(context.Background(), []byte("x"), "x")
	require.ErrorIs(t, err, ErrPublishFailed)
}

func TestMirroredIngress(t *testing.T) {
	primary := &fakeIngress{name: "primary"}
	broken := &fakeIngress{name: "broken", failures: 100}
	mirror := &fakeIngress{name: "mirror"}
	m := MirroredIngress{Primary: primary, Mirrors: []Ingress{broken, mirror}}

	blob := []byte("replicate me")
	id, per, err := m.PutAll(context.Background(), blob, "x")
	require.NoError(t, err)
	require.Equal(t, rawCID(t, blob), id)
	require.Len(t, per, 2)
	require.Equal(t, id, per["mirror"])
	require.NotContains(t, per, "broken")

	_, err = MirroredIngress{Primary: broken}.Put(context.Background(), blob, "x")
	require.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	_, err = New(Options{Endpoints: []Endpoint{nil}})
	require.Error(t, err)

	f := newFabric(t, Options{Endpoints: []Endpoint{serve("a", nil, ""), serve("b", nil, "")}})
	require.Equal(t, []string{"a", "b"}, f.Endpoints())
}
