package ledgertest

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"xdao.co/paylock/ledger"
)

var (
	seller = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	l := New()
	s := l.As(seller)
	b := l.As(buyer)

	_, err := s.ListItem(ctx, ledger.ListItemRequest{Name: "Track", Price: big.NewInt(10), MaxSupply: 2})
	require.NoError(t, err)

	_, err = b.Buy(ctx, 1, big.NewInt(9))
	require.ErrorIs(t, err, ErrReverted)
	_, err = b.Buy(ctx, 1, big.NewInt(10))
	require.NoError(t, err)

	own, err := b.CheckOwnership(ctx, 1, buyer)
	require.NoError(t, err)
	require.True(t, own.Purchased)
	require.Empty(t, own.DeliveredKey)

	_, err = b.DeliverKey(ctx, 1, buyer, "k")
	require.ErrorIs(t, err, ErrReverted)
	_, err = s.DeliverKey(ctx, 1, buyer, "k")
	require.NoError(t, err)

	own, err = s.CheckOwnership(ctx, 1, buyer)
	require.NoError(t, err)
	require.Equal(t, "k", own.DeliveredKey)

	head, err := s.BlockNumber(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), head)

	deliveries, err := s.GetLogs(ctx, ledger.TopicDelivered, 0, head)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, buyer, deliveries[0].Account)
	require.Equal(t, TimeAt(3), deliveries[0].Timestamp)
}

func TestLedgerLagHidesRecentEvents(t *testing.T) {
	ctx := context.Background()
	l := New()
	s := l.As(seller)
	_, err := s.ListItem(ctx, ledger.ListItemRequest{Name: "Pack", MaxSupply: 5})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = l.As(buyer).Buy(ctx, 1, new(big.Int))
		require.NoError(t, err)
	}
	l.SetLag(2)

	events, err := s.GetLogs(ctx, ledger.TopicPurchased, 0, l.Head())
	require.NoError(t, err)
	require.Len(t, events, 1)

	item, err := s.GetItem(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), item.SoldCount)
}

func TestLedgerFailReads(t *testing.T) {
	l := New()
	boom := errors.New("rpc down")
	l.FailReads(boom)
	_, err := l.As(seller).ListItems(context.Background())
	require.ErrorIs(t, err, boom)
	l.FailReads(nil)
	_, err = l.As(seller).ListItems(context.Background())
	require.NoError(t, err)
}

func TestLedgerSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := New()
	sink := make(chan ledger.Event, 4)
	sub, err := l.As(seller).Subscribe(ctx, sink)
	require.NoError(t, err)

	_, err = l.As(seller).ListItem(ctx, ledger.ListItemRequest{Name: "x", MaxSupply: 1})
	require.NoError(t, err)
	select {
	case ev := <-sink:
		require.Equal(t, ledger.TopicListed, ev.Topic)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}

	l.Drop(errors.New("disconnected"))
	require.Error(t, <-sub.Err())
	sub.Unsubscribe()
}
