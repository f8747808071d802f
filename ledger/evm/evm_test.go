package evm

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/stretchr/testify/require"

	"xdao.co/paylock/ledger"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000c0de1")
	seller   = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer    = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// fakeBackend answers contract calls from canned values and records sent
// transactions.
type fakeBackend struct {
	t   *testing.T
	abi abi.ABI

	items     []itemTuple
	purchased bool
	key       string
	logs      []types.Log
	head      uint64

	mu   sync.Mutex
	sent []*types.Transaction
	q    ethereum.FilterQuery
	feed event.Feed
}

func newFakeBackend(t *testing.T) *fakeBackend {
	parsed, err := ParseABI()
	require.NoError(t, err)
	return &fakeBackend{t: t, abi: parsed, head: 42}
}

func (b *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	require.Equal(b.t, contract, *msg.To)
	m, err := b.abi.MethodById(msg.Data[:4])
	require.NoError(b.t, err)
	args, err := m.Inputs.Unpack(msg.Data[4:])
	require.NoError(b.t, err)

	switch m.Name {
	case "getMarketplaceItems":
		return m.Outputs.Pack(b.items)
	case "getItem":
		id := args[0].(*big.Int)
		for _, it := range b.items {
			if it.Id.Cmp(id) == 0 {
				return m.Outputs.Pack(it)
			}
		}
		return m.Outputs.Pack(itemTuple{
			Id: new(big.Int), Price: new(big.Int), MaxSupply: new(big.Int),
			SoldCount: new(big.Int), ListedAt: new(big.Int),
		})
	case "checkOwnership":
		if args[1].(common.Address) != buyer {
			return m.Outputs.Pack(false, "")
		}
		return m.Outputs.Pack(b.purchased, b.key)
	}
	return nil, errors.New("unexpected call " + m.Name)
}

func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) { return b.head, nil }

func (b *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	b.q = q
	b.mu.Unlock()
	var out []types.Log
	for _, lg := range b.logs {
		if lg.Topics[0] == q.Topics[0][0] {
			out = append(out, lg)
		}
	}
	return out, nil
}

func (b *fakeBackend) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return b.feed.Subscribe(ch), nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1e9), nil }

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 90000, nil }

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	return nil
}

func tuple(id, max, sold uint64, soldOut bool) itemTuple {
	return itemTuple{
		Id:         new(big.Int).SetUint64(id),
		Seller:     seller,
		Name:       "Track",
		IpfsCid:    "bafkreicontent",
		PreviewCid: "bafkreipreview",
		FileType:   "audio/mpeg",
		Price:      big.NewInt(1000),
		MaxSupply:  new(big.Int).SetUint64(max),
		SoldCount:  new(big.Int).SetUint64(sold),
		IsSoldOut:  soldOut,
		ListedAt:   big.NewInt(1700000000),
	}
}

func (b *fakeBackend) eventLog(t *testing.T, name string, id uint64, account common.Address, block uint64, index uint, data ...interface{}) types.Log {
	t.Helper()
	ev := b.abi.Events[name]
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)
	return types.Log{
		Address: contract,
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(new(big.Int).SetUint64(id)),
			common.BytesToHash(account.Bytes()),
		},
		Data:        packed,
		BlockNumber: block,
		Index:       index,
		TxHash:      common.BytesToHash([]byte{byte(block), byte(index)}),
	}
}

func newClient(t *testing.T, b *fakeBackend, withKey bool) *Client {
	t.Helper()
	cfg := Config{Contract: contract, ChainID: big.NewInt(11155111)}
	if withKey {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		cfg.Key = key
	}
	c, err := New(b, cfg)
	require.NoError(t, err)
	return c
}

func TestListItemsAndGetItem(t *testing.T) {
	b := newFakeBackend(t)
	b.items = []itemTuple{tuple(1, 5, 3, false), tuple(2, 1, 1, true)}
	c := newClient(t, b, false)
	ctx := context.Background()

	items, err := c.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	first := items[0]
	require.Equal(t, uint64(1), first.ID)
	require.Equal(t, seller, first.Seller)
	require.Equal(t, "bafkreicontent", first.ContentRef)
	require.Equal(t, "bafkreipreview", first.PreviewRef)
	require.Equal(t, "audio/mpeg", first.ContentType)
	require.Equal(t, int64(1000), first.Price.Int64())
	require.Equal(t, uint64(5), first.MaxSupply)
	require.Equal(t, uint64(3), first.SoldCount)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), first.ListedAt)
	require.False(t, first.IsSoldOut())
	require.True(t, items[1].IsSoldOut())

	got, err := c.GetItem(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), got.ID)

	_, err = c.GetItem(ctx, 9)
	require.ErrorIs(t, err, ledger.ErrItemNotFound)
}

func TestCheckOwnership(t *testing.T) {
	b := newFakeBackend(t)
	b.purchased = true
	b.key = "ab"
	c := newClient(t, b, false)

	own, err := c.CheckOwnership(context.Background(), 1, buyer)
	require.NoError(t, err)
	require.Equal(t, ledger.Ownership{Purchased: true, DeliveredKey: "ab"}, own)

	own, err = c.CheckOwnership(context.Background(), 1, seller)
	require.NoError(t, err)
	require.False(t, own.Purchased)
}

func TestGetLogsDecodesEvents(t *testing.T) {
	b := newFakeBackend(t)
	b.logs = []types.Log{
		b.eventLog(t, "ItemPurchased", 1, buyer, 12, 3, big.NewInt(1000), big.NewInt(1700000100)),
		b.eventLog(t, "ItemPurchased", 1, buyer, 10, 0, big.NewInt(1000), big.NewInt(1700000050)),
		b.eventLog(t, "KeyDelivered", 1, buyer, 13, 1, "deadbeef", big.NewInt(1700000200)),
		b.eventLog(t, "ItemCanceled", 4, seller, 14, 0, big.NewInt(1700000300)),
	}
	removed := b.eventLog(t, "ItemPurchased", 1, buyer, 11, 0, big.NewInt(1000), big.NewInt(1))
	removed.Removed = true
	b.logs = append(b.logs, removed)

	c := newClient(t, b, false)
	ctx := context.Background()

	purchases, err := c.GetLogs(ctx, ledger.TopicPurchased, 0, 42)
	require.NoError(t, err)
	require.Len(t, purchases, 2)
	require.Equal(t, ledger.Position{Block: 10, Index: 0}, purchases[0].Position)
	require.Equal(t, ledger.Position{Block: 12, Index: 3}, purchases[1].Position)
	require.Equal(t, buyer, purchases[1].Account)
	require.Equal(t, uint64(1), purchases[1].ItemID)
	require.Equal(t, time.Unix(1700000100, 0).UTC(), purchases[1].Timestamp)

	b.mu.Lock()
	q := b.q
	b.mu.Unlock()
	require.Equal(t, uint64(0), q.FromBlock.Uint64())
	require.Equal(t, uint64(42), q.ToBlock.Uint64())
	require.Equal(t, []common.Address{contract}, q.Addresses)

	deliveries, err := c.GetLogs(ctx, ledger.TopicDelivered, 0, 42)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, "deadbeef", deliveries[0].Key)

	cancels, err := c.GetLogs(ctx, ledger.TopicCanceled, 0, 42)
	require.NoError(t, err)
	require.Len(t, cancels, 1)
	require.Equal(t, seller, cancels[0].Account)
	require.Equal(t, uint64(4), cancels[0].ItemID)

	_, err = c.GetLogs(ctx, ledger.Topic("Bogus"), 0, 1)
	require.ErrorIs(t, err, ledger.ErrUnknownTopic)
}

func TestTransactionsAreSigned(t *testing.T) {
	b := newFakeBackend(t)
	c := newClient(t, b, true)
	ctx := context.Background()

	h1, err := c.Buy(ctx, 7, big.NewInt(1000))
	require.NoError(t, err)
	h2, err := c.DeliverKey(ctx, 7, buyer, "00ff")
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)

	b.mu.Lock()
	sent := append([]*types.Transaction(nil), b.sent...)
	b.mu.Unlock()
	require.Len(t, sent, 2)

	signer := types.LatestSignerForChainID(big.NewInt(11155111))
	for i, tx := range sent {
		from, err := types.Sender(signer, tx)
		require.NoError(t, err)
		require.Equal(t, c.From(), from)
		require.Equal(t, uint64(i), tx.Nonce())
		require.Equal(t, contract, *tx.To())
	}
	require.Equal(t, int64(1000), sent[0].Value().Int64())
	require.Equal(t, h1, sent[0].Hash())

	m, err := b.abi.MethodById(sent[1].Data()[:4])
	require.NoError(t, err)
	require.Equal(t, "deliverKey", m.Name)
	args, err := m.Inputs.Unpack(sent[1].Data()[4:])
	require.NoError(t, err)
	require.Equal(t, buyer, args[1])
	require.Equal(t, "00ff", args[2])
}

func TestReadOnlyClientRefusesWrites(t *testing.T) {
	c := newClient(t, newFakeBackend(t), false)
	_, err := c.CancelListing(context.Background(), 1)
	require.ErrorIs(t, err, ledger.ErrReadOnly)
}

func TestSubscribeForwardsEvents(t *testing.T) {
	b := newFakeBackend(t)
	c := newClient(t, b, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := make(chan ledger.Event, 1)
	sub, err := c.Subscribe(ctx, sink)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	lg := b.eventLog(t, "ItemPurchased", 3, buyer, 50, 2, big.NewInt(1), big.NewInt(1700000000))
	require.Eventually(t, func() bool { return b.feed.Send(lg) > 0 }, time.Second, 5*time.Millisecond)

	select {
	case ev := <-sink:
		require.Equal(t, ledger.TopicPurchased, ev.Topic)
		require.Equal(t, uint64(3), ev.ItemID)
	case <-time.After(2 * time.Second):
		t.Fatal("no event forwarded")
	}
}
