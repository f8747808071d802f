package fabric

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ipfs/go-cid"

	"xdao.co/paylock/cidutil"
)

// Publish pushes blob through the ingress and returns its canonical CID string.
//
// Transient ingress failures are retried a bounded number of times. Content
// addressing makes a repeated publish of the same bytes harmless.
func (f *Fabric) Publish(ctx context.Context, blob []byte, hint string) (string, error) {
	if f.ingress == nil {
		return "", fmt.Errorf("%w: no ingress configured", ErrPublishFailed)
	}
	if len(blob) == 0 {
		return "", fmt.Errorf("%w: empty blob", ErrPublishFailed)
	}

	var id cid.Cid
	op := func() error {
		got, err := f.ingress.Put(ctx, blob, hint)
		if err != nil {
			if errors.Is(err, ErrCIDMismatch) || errors.Is(err, ErrImmutable) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if !got.Defined() {
			return backoff.Permanent(ErrInvalidCID)
		}
		id = got
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.retryInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(f.retries)), ctx)
	notify := func(err error, wait time.Duration) {
		log.Debugw("publish retry", "ingress", f.ingress.Name(), "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		f.metrics.publish(f.ingress.Name(), resultError)
		return "", fmt.Errorf("%w: %s: %v", ErrPublishFailed, f.ingress.Name(), err)
	}
	if err := cidutil.Verify(id, blob); err != nil {
		f.metrics.publish(f.ingress.Name(), resultMismatch)
		return "", fmt.Errorf("%w: %s: %v", ErrPublishFailed, f.ingress.Name(), err)
	}

	f.metrics.publish(f.ingress.Name(), resultOK)
	f.keep(ctx, id, blob)
	log.Infow("published", "ingress", f.ingress.Name(), "cid", id.String(), "bytes", len(blob))
	return id.String(), nil
}
