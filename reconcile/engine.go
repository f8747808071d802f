package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"

	"xdao.co/paylock/fabric"
	"xdao.co/paylock/keys"
	"xdao.co/paylock/ledger"
)

var log = logging.Logger("paylock/reconcile")

const (
	DefaultPollInterval = 10 * time.Second
	DefaultConcurrency  = 8
)

// Projection is the published result of one pass. It is never mutated after
// publication.
type Projection struct {
	Generation uint64
	Viewer     common.Address
	Items      []ledger.Listing
	Rows       []FeedRow
	States     map[uint64]ItemState
	Reputation map[common.Address]Score
	From, To   uint64
	ObservedAt time.Time
}

// Row returns the row with key, or nil.
func (p *Projection) Row(key string) *FeedRow {
	for i := range p.Rows {
		if p.Rows[i].Key == key {
			return &p.Rows[i]
		}
	}
	return nil
}

// SyncingRows counts rows waiting on the event index.
func (p *Projection) SyncingRows() int {
	n := 0
	for _, r := range p.Rows {
		if r.IsSyncing {
			n++
		}
	}
	return n
}

// PendingBuyer returns the one buyer of itemID still waiting for a key. A
// syncing sale has no known buyer, so it makes the answer ambiguous, as does
// more than one waiting buyer.
func (p *Projection) PendingBuyer(itemID uint64) (common.Address, error) {
	var buyers []common.Address
	for _, r := range p.Rows {
		if r.Kind != RowSale || r.Listing.ID != itemID {
			continue
		}
		if r.IsSyncing {
			return common.Address{}, fmt.Errorf("%w: item %d has a sale still indexing", ErrAmbiguousBuyer, itemID)
		}
		if r.Status != StatusPendingKey {
			continue
		}
		if !slices.Contains(buyers, r.Buyer) {
			buyers = append(buyers, r.Buyer)
		}
	}
	switch len(buyers) {
	case 1:
		return buyers[0], nil
	case 0:
		return common.Address{}, fmt.Errorf("%w: item %d has no sale waiting for a key", ErrAmbiguousBuyer, itemID)
	default:
		return common.Address{}, fmt.Errorf("%w: item %d has %d buyers waiting", ErrAmbiguousBuyer, itemID, len(buyers))
	}
}

type Option func(*Engine)

// WithViewer sets the account the feed is built for. It defaults to the
// signer's address.
func WithViewer(addr common.Address) Option { return func(e *Engine) { e.viewer = addr } }

func WithWriter(w ledger.Writer) Option { return func(e *Engine) { e.writer = w } }

func WithSubscriber(s ledger.Subscriber) Option { return func(e *Engine) { e.sub = s } }

func WithFabric(f *fabric.Fabric) Option { return func(e *Engine) { e.fabric = f } }

func WithKeyCache(c *keys.Cache) Option { return func(e *Engine) { e.cache = c } }

func WithSigner(s keys.Signer) Option { return func(e *Engine) { e.signer = s } }

// WithAppTag sets the tag of the canonical message signed to derive keys.
func WithAppTag(tag string) Option { return func(e *Engine) { e.appTag = tag } }

// WithLookback sets the event window in blocks; 0 scans full history.
func WithLookback(blocks uint64) Option { return func(e *Engine) { e.lookback = blocks } }

func WithPollInterval(d time.Duration) Option { return func(e *Engine) { e.poll = d } }

// WithConcurrency bounds parallel ownership and metadata reads.
func WithConcurrency(n int) Option { return func(e *Engine) { e.concurrency = n } }

func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithOnUpdate registers fn to run after each published projection.
func WithOnUpdate(fn func(*Projection)) Option { return func(e *Engine) { e.onUpdate = fn } }

// Engine runs reconciliation passes for one viewer.
type Engine struct {
	reader ledger.Reader
	writer ledger.Writer
	sub    ledger.Subscriber
	fabric *fabric.Fabric
	cache  *keys.Cache
	signer keys.Signer

	viewer      common.Address
	appTag      string
	lookback    uint64
	poll        time.Duration
	concurrency int
	metrics     *Metrics
	now         func() time.Time
	onUpdate    func(*Projection)

	gen       atomic.Uint64
	publishMu sync.Mutex
	published atomic.Pointer[Projection]
}

func New(reader ledger.Reader, opts ...Option) (*Engine, error) {
	if reader == nil {
		return nil, errors.New("reconcile: ledger reader is required")
	}
	e := &Engine{
		reader:      reader,
		lookback:    DefaultLookback,
		poll:        DefaultPollInterval,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.viewer == (common.Address{}) && e.signer != nil {
		e.viewer = e.signer.Address()
	}
	if e.poll <= 0 {
		return nil, fmt.Errorf("reconcile: poll interval must be positive, got %s", e.poll)
	}
	if e.concurrency <= 0 {
		e.concurrency = 1
	}
	return e, nil
}

func (e *Engine) Viewer() common.Address { return e.viewer }

func readFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedgerReadFailed, op, err)
}

// Pass reads the ledger and builds a projection without publishing it.
// Generation is left zero.
func (e *Engine) Pass(ctx context.Context) (*Projection, error) {
	observedAt := e.now()

	head, err := e.reader.BlockNumber(ctx)
	if err != nil {
		return nil, readFailed("block number", err)
	}
	items, err := e.reader.ListItems(ctx)
	if err != nil {
		return nil, readFailed("list items", err)
	}
	from, to := Window(head, e.lookback)

	var (
		purchases, deliveries, cancels []ledger.Event
		owns                           = make([]ledger.Ownership, len(items))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for topic, dst := range map[ledger.Topic]*[]ledger.Event{
		ledger.TopicPurchased: &purchases,
		ledger.TopicDelivered: &deliveries,
		ledger.TopicCanceled:  &cancels,
	} {
		g.Go(func() error {
			evs, err := e.reader.GetLogs(gctx, topic, from, to)
			if err != nil {
				return readFailed(string(topic)+" logs", err)
			}
			*dst = evs
			return nil
		})
	}
	if e.viewer != (common.Address{}) {
		for i := range items {
			g.Go(func() error {
				own, err := e.reader.CheckOwnership(gctx, items[i].ID, e.viewer)
				if err != nil {
					return readFailed(fmt.Sprintf("ownership of item %d", items[i].ID), err)
				}
				owns[i] = own
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := Snapshot{
		Viewer:     e.viewer,
		Items:      items,
		Purchases:  purchases,
		Deliveries: deliveries,
		Cancels:    cancels,
		Ownership:  make(map[uint64]ledger.Ownership, len(items)),
		ObservedAt: observedAt,
	}
	for i, it := range items {
		snap.Ownership[it.ID] = owns[i]
	}

	rows := BuildFeed(snap)
	e.attachPreviews(ctx, rows)

	return &Projection{
		Viewer:     e.viewer,
		Items:      items,
		Rows:       rows,
		States:     States(snap, rows),
		Reputation: Reputations(snap),
		From:       from,
		To:         to,
		ObservedAt: observedAt,
	}, nil
}

// attachPreviews resolves preview metadata for rows. Failures leave Preview nil.
func (e *Engine) attachPreviews(ctx context.Context, rows []FeedRow) {
	if e.fabric == nil || len(rows) == 0 {
		return
	}
	refs := make(map[string]*fabric.Metadata)
	for _, r := range rows {
		if r.Listing.PreviewRef != "" {
			refs[r.Listing.PreviewRef] = nil
		}
	}
	resolved := make([]*fabric.Metadata, 0, len(refs))
	order := make([]string, 0, len(refs))
	for ref := range refs {
		order = append(order, ref)
		resolved = append(resolved, nil)
	}

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, ref := range order {
		g.Go(func() error {
			resolved[i] = e.fabric.ResolveMetadata(ctx, ref)
			return nil
		})
	}
	_ = g.Wait()

	for i, ref := range order {
		refs[ref] = resolved[i]
	}
	for i := range rows {
		rows[i].Preview = refs[rows[i].Listing.PreviewRef]
	}
}

// Refresh runs a pass and publishes it unless a newer pass already has. The
// OnUpdate callback runs for each published projection in generation order. On
// failure the previous projection stays current and is returned with the error.
func (e *Engine) Refresh(ctx context.Context) (*Projection, error) {
	gen := e.gen.Add(1)
	p, err := e.Pass(ctx)
	if err != nil {
		e.metrics.pass("error")
		log.Warnw("reconciliation pass failed, keeping previous projection", "generation", gen, "err", err)
		return e.Current(), err
	}
	p.Generation = gen

	// publishMu orders the swap and the callback together, so callbacks see
	// generations in increasing order.
	e.publishMu.Lock()
	defer e.publishMu.Unlock()
	if cur := e.published.Load(); cur != nil && cur.Generation > gen {
		e.metrics.pass("superseded")
		return cur, nil
	}
	e.published.Store(p)
	e.metrics.pass("ok")
	e.metrics.syncing(p.SyncingRows())
	log.Debugw("projection published", "generation", gen, "rows", len(p.Rows), "syncing", p.SyncingRows(), "from", p.From, "to", p.To)
	if e.onUpdate != nil {
		e.onUpdate(p)
	}
	return p, nil
}

// Current returns the latest published projection, or nil before the first
// successful pass.
func (e *Engine) Current() *Projection {
	return e.published.Load()
}

// Run refreshes on every poll tick and every ledger event until ctx ends.
// Triggers that arrive while a pass is running collapse into one follow-up
// pass. Without a subscriber, or when subscribing fails, it polls only.
func (e *Engine) Run(ctx context.Context) error {
	trigger := make(chan struct{}, 1)
	fire := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	events := make(chan ledger.Event, 16)
	var subErr <-chan error
	if e.sub != nil {
		sub, err := e.sub.Subscribe(ctx, events)
		if err != nil {
			log.Warnw("event subscription unavailable, polling only", "err", err)
		} else {
			defer sub.Unsubscribe()
			subErr = sub.Err()
		}
	}

	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	fire()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fire()
		case ev := <-events:
			log.Debugw("ledger event", "topic", ev.Topic, "item", ev.ItemID, "block", ev.Position.Block)
			fire()
		case err := <-subErr:
			log.Warnw("event subscription ended, polling only", "err", err)
			subErr = nil
		case <-trigger:
			_, _ = e.Refresh(ctx)
		}
	}
}
