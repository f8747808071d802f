package fabric

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ipfs/go-cid"

	"xdao.co/paylock/cidutil"
)

// ParseRef validates a content reference without any network I/O.
func ParseRef(ref string) (cid.Cid, error) {
	id, err := cidutil.ParseRef(ref)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return id, nil
}

// Fetch resolves ref through the ordered endpoint list.
//
// Per-endpoint failures (timeouts, transport errors, HTML error pages, hash
// mismatches) are skipped. The result is ErrInvalidReference before any I/O
// for malformed references, and ErrAllEndpointsFailed once the list is
// exhausted.
func (f *Fabric) Fetch(ctx context.Context, ref string, kind Kind) ([]byte, error) {
	id, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	return f.FetchCID(ctx, id, kind)
}

// FetchCID is Fetch for an already decoded CID.
func (f *Fabric) FetchCID(ctx context.Context, id cid.Cid, kind Kind) ([]byte, error) {
	if !id.Defined() {
		return nil, ErrInvalidReference
	}
	var lastErr error
	for _, ep := range f.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := f.attempt(ctx, ep, id, kind)
		if err == nil {
			f.metrics.fetchAttempt(ep.Name(), resultOK)
			f.keep(ctx, id, data)
			return data, nil
		}
		f.metrics.fetchAttempt(ep.Name(), attemptResult(err))
		log.Debugw("fetch attempt rejected", "endpoint", ep.Name(), "cid", id.String(), "kind", kind.String(), "err", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no endpoints configured")
	}
	return nil, fmt.Errorf("%w: %s after %d endpoints: %v", ErrAllEndpointsFailed, id, len(f.endpoints), lastErr)
}

func (f *Fabric) attempt(ctx context.Context, ep Endpoint, id cid.Cid, kind Kind) ([]byte, error) {
	actx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	obj, err := ep.Get(actx, id)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errEmptyBody
	}
	if err := validate(id, obj); err != nil {
		return nil, err
	}
	return obj.Data, nil
}

// validate accepts hash-verified bytes unconditionally. Bodies that cannot be
// verified (UnixFS ids) must at least not be empty or an HTML page.
func validate(id cid.Cid, obj *Object) error {
	if len(obj.Data) == 0 {
		return errEmptyBody
	}
	if cidutil.Verifiable(id) {
		if err := cidutil.Verify(id, obj.Data); err != nil {
			return fmt.Errorf("%w: %v", ErrCIDMismatch, err)
		}
		return nil
	}
	if isHTML(obj) {
		return errHTMLBody
	}
	return nil
}

func isHTML(obj *Object) bool {
	ct := strings.ToLower(obj.ContentType)
	if strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml") {
		return true
	}
	return mimetype.Detect(obj.Data).Is("text/html")
}

const (
	resultOK       = "ok"
	resultTimeout  = "timeout"
	resultHTML     = "html"
	resultEmpty    = "empty"
	resultMismatch = "mismatch"
	resultNotFound = "not_found"
	resultError    = "error"
)

func attemptResult(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return resultTimeout
	case errors.Is(err, errHTMLBody):
		return resultHTML
	case errors.Is(err, errEmptyBody):
		return resultEmpty
	case errors.Is(err, ErrCIDMismatch):
		return resultMismatch
	case errors.Is(err, ErrNotFound):
		return resultNotFound
	default:
		return resultError
	}
}
