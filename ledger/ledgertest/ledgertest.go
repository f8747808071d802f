// Package ledgertest provides an in-memory marketplace ledger for tests.
//
// Every write mines one block. Item state is always current, while event
// logs can be made to lag the head (SetLag) to reproduce an incomplete
// event index.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"xdao.co/paylock/ledger"
)

var ErrReverted = errors.New("ledgertest: execution reverted")

// Genesis is the timestamp of block 0. Block n is Genesis + n*BlockTime.
var Genesis = time.Unix(1700000000, 0).UTC()

const BlockTime = 12 * time.Second

type Ledger struct {
	mu      sync.Mutex
	items   []ledger.Listing
	owners  map[uint64]map[common.Address]ledger.Ownership
	events  []ledger.Event
	head    uint64
	lag     uint64
	readErr error
	subs    map[*subscription]struct{}
}

func New() *Ledger {
	return &Ledger{
		owners: make(map[uint64]map[common.Address]ledger.Ownership),
		subs:   make(map[*subscription]struct{}),
	}
}

// As returns a client that signs transactions as account.
func (l *Ledger) As(account common.Address) *Client {
	return &Client{l: l, account: account}
}

// SetLag hides events mined in the most recent n blocks from GetLogs.
func (l *Ledger) SetLag(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lag = n
}

// FailReads makes every read fail with err until called with nil.
func (l *Ledger) FailReads(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

// Mine advances the head by n empty blocks.
func (l *Ledger) Mine(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head += n
}

func (l *Ledger) Head() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// TimeAt returns the timestamp of block n.
func TimeAt(n uint64) time.Time {
	return Genesis.Add(time.Duration(n) * BlockTime)
}

func (l *Ledger) item(id uint64) (*ledger.Listing, error) {
	for i := range l.items {
		if l.items[i].ID == id {
			return &l.items[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ledger.ErrItemNotFound, id)
}

// mine appends a one-event block. Callers hold mu.
func (l *Ledger) mine(topic ledger.Topic, id uint64, account common.Address, key string) ledger.Event {
	l.head++
	ev := ledger.Event{
		Topic:     topic,
		ItemID:    id,
		Account:   account,
		Key:       key,
		Position:  ledger.Position{Block: l.head},
		Timestamp: TimeAt(l.head),
		TxHash:    common.BigToHash(new(big.Int).SetUint64(l.head)),
	}
	l.events = append(l.events, ev)
	for s := range l.subs {
		select {
		case s.sink <- ev:
		default:
		}
	}
	return ev
}

func (l *Ledger) read() error {
	return l.readErr
}

// Client is a ledger.Client view of a Ledger bound to one account.
type Client struct {
	l       *Ledger
	account common.Address
}

var _ ledger.Client = (*Client)(nil)

func (c *Client) Account() common.Address { return c.account }

func (c *Client) ListItems(ctx context.Context) ([]ledger.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if err := c.l.read(); err != nil {
		return nil, err
	}
	out := make([]ledger.Listing, len(c.l.items))
	for i, it := range c.l.items {
		it.Price = new(big.Int).Set(it.Price)
		out[i] = it
	}
	return out, nil
}

func (c *Client) GetItem(ctx context.Context, id uint64) (*ledger.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if err := c.l.read(); err != nil {
		return nil, err
	}
	it, err := c.l.item(id)
	if err != nil {
		return nil, err
	}
	cp := *it
	cp.Price = new(big.Int).Set(it.Price)
	return &cp, nil
}

func (c *Client) CheckOwnership(ctx context.Context, id uint64, account common.Address) (ledger.Ownership, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Ownership{}, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if err := c.l.read(); err != nil {
		return ledger.Ownership{}, err
	}
	return c.l.owners[id][account], nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if err := c.l.read(); err != nil {
		return 0, err
	}
	return c.l.head, nil
}

func (c *Client) GetLogs(ctx context.Context, topic ledger.Topic, from, to uint64) ([]ledger.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !topic.Valid() {
		return nil, fmt.Errorf("%w: %q", ledger.ErrUnknownTopic, topic)
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if err := c.l.read(); err != nil {
		return nil, err
	}
	var out []ledger.Event
	for _, ev := range c.l.events {
		b := ev.Position.Block
		if ev.Topic != topic || b < from || b > to || b+c.l.lag > c.l.head {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (c *Client) Buy(ctx context.Context, id uint64, price *big.Int) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	it, err := c.l.item(id)
	if err != nil {
		return common.Hash{}, err
	}
	if it.IsSoldOut() {
		return common.Hash{}, fmt.Errorf("%w: item %d sold out", ErrReverted, id)
	}
	if price == nil || price.Cmp(it.Price) < 0 {
		return common.Hash{}, fmt.Errorf("%w: insufficient payment", ErrReverted)
	}
	it.SoldCount++
	if it.SoldCount >= it.MaxSupply {
		it.SoldOut = true
	}
	if c.l.owners[id] == nil {
		c.l.owners[id] = make(map[common.Address]ledger.Ownership)
	}
	own := c.l.owners[id][c.account]
	own.Purchased = true
	c.l.owners[id][c.account] = own
	return c.l.mine(ledger.TopicPurchased, id, c.account, "").TxHash, nil
}

func (c *Client) ListItem(ctx context.Context, req ledger.ListItemRequest) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	if req.MaxSupply == 0 {
		return common.Hash{}, fmt.Errorf("%w: max supply must be positive", ErrReverted)
	}
	price := new(big.Int)
	if req.Price != nil {
		price.Set(req.Price)
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	id := uint64(len(c.l.items)) + 1
	c.l.items = append(c.l.items, ledger.Listing{
		ID:          id,
		Seller:      c.account,
		Name:        req.Name,
		ContentRef:  req.ContentRef,
		PreviewRef:  req.PreviewRef,
		ContentType: req.ContentType,
		Price:       price,
		MaxSupply:   req.MaxSupply,
		ListedAt:    TimeAt(c.l.head + 1),
	})
	return c.l.mine(ledger.TopicListed, id, c.account, "").TxHash, nil
}

func (c *Client) DeliverKey(ctx context.Context, id uint64, buyer common.Address, key string) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	it, err := c.l.item(id)
	if err != nil {
		return common.Hash{}, err
	}
	if it.Seller != c.account {
		return common.Hash{}, fmt.Errorf("%w: only the seller can deliver", ErrReverted)
	}
	own, ok := c.l.owners[id][buyer]
	if !ok || !own.Purchased {
		return common.Hash{}, fmt.Errorf("%w: %s has not purchased item %d", ErrReverted, buyer.Hex(), id)
	}
	own.DeliveredKey = key
	c.l.owners[id][buyer] = own
	return c.l.mine(ledger.TopicDelivered, id, buyer, key).TxHash, nil
}

func (c *Client) CancelListing(ctx context.Context, id uint64) (common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	it, err := c.l.item(id)
	if err != nil {
		return common.Hash{}, err
	}
	if it.Seller != c.account {
		return common.Hash{}, fmt.Errorf("%w: only the seller can cancel", ErrReverted)
	}
	it.SoldOut = true
	return c.l.mine(ledger.TopicCanceled, id, c.account, "").TxHash, nil
}

type subscription struct {
	l       *Ledger
	sink    chan<- ledger.Event
	errc    chan error
	once    sync.Once
	stopped chan struct{}
}

// Subscribe delivers newly mined events to sink. Events are dropped when
// sink is full.
func (c *Client) Subscribe(ctx context.Context, sink chan<- ledger.Event) (ledger.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := &subscription{l: c.l, sink: sink, errc: make(chan error, 1), stopped: make(chan struct{})}
	c.l.mu.Lock()
	c.l.subs[s] = struct{}{}
	c.l.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			s.Unsubscribe()
		case <-s.stopped:
		}
	}()
	return s, nil
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.l.mu.Lock()
		delete(s.l.subs, s)
		s.l.mu.Unlock()
		close(s.stopped)
		close(s.errc)
	})
}

func (s *subscription) Err() <-chan error { return s.errc }

// Drop ends every active subscription with err, as a node disconnect would.
func (l *Ledger) Drop(err error) {
	l.mu.Lock()
	subs := make([]*subscription, 0, len(l.subs))
	for s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()
	for _, s := range subs {
		s.once.Do(func() {
			l.mu.Lock()
			delete(l.subs, s)
			l.mu.Unlock()
			close(s.stopped)
			s.errc <- err
			close(s.errc)
		})
	}
}
