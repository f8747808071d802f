package reconcile

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"xdao.co/paylock/ledger"
)

var (
	seller = common.HexToAddress("0x1111111111111111111111111111111111111111")
	alice  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	bob    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	t0     = time.Unix(1700000000, 0).UTC()
)

func item(id, maxSupply, sold uint64) ledger.Listing {
	return ledger.Listing{
		ID:        id,
		Seller:    seller,
		Name:      "Item",
		Price:     big.NewInt(100),
		MaxSupply: maxSupply,
		SoldCount: sold,
		ListedAt:  t0,
	}
}

func event(topic ledger.Topic, id uint64, account common.Address, block uint64, key string) ledger.Event {
	return ledger.Event{
		Topic:     topic,
		ItemID:    id,
		Account:   account,
		Key:       key,
		Position:  ledger.Position{Block: block},
		Timestamp: t0.Add(time.Duration(block) * time.Minute),
	}
}

func rowsFor(rows []FeedRow, id uint64) []FeedRow {
	var out []FeedRow
	for _, r := range rows {
		if r.Listing.ID == id {
			out = append(out, r)
		}
	}
	return out
}

func count(rows []FeedRow, pred func(FeedRow) bool) int {
	n := 0
	for _, r := range rows {
		if pred(r) {
			n++
		}
	}
	return n
}

func TestBuildFeed_SynthesizesSyncingRows(t *testing.T) {
	snap := Snapshot{
		Viewer:     seller,
		Items:      []ledger.Listing{item(1, 5, 3)},
		Purchases:  []ledger.Event{event(ledger.TopicPurchased, 1, alice, 10, "")},
		ObservedAt: t0.Add(time.Hour),
	}
	rows := BuildFeed(snap)
	require.Len(t, rows, 4)

	require.Equal(t, 1, count(rows, func(r FeedRow) bool { return r.Kind == RowSale && !r.IsSyncing }))
	require.Equal(t, 2, count(rows, func(r FeedRow) bool { return r.IsSyncing }))
	require.Equal(t, 1, count(rows, func(r FeedRow) bool { return r.Kind == RowListing }))

	keys := make(map[string]bool)
	for _, r := range rows {
		require.False(t, keys[r.Key], "duplicate key %s", r.Key)
		keys[r.Key] = true
		if r.IsSyncing {
			require.Equal(t, common.Address{}, r.Buyer)
			require.Equal(t, StatusIndexing, r.Status)
			require.Equal(t, snap.ObservedAt, r.Timestamp)
		}
	}
	require.True(t, keys["1-sync-0"])
	require.True(t, keys["1-sync-1"])
	require.True(t, keys["1-listing"])
	require.True(t, keys["1-sale-0x2222222222222222222222222222222222222222-10-0"])
}

func TestBuildFeed_NoListingRowWhenSoldOutOrCanceled(t *testing.T) {
	soldOut := item(1, 2, 2)
	flagged := item(2, 5, 1)
	flagged.SoldOut = true
	canceled := item(3, 5, 0)

	rows := BuildFeed(Snapshot{
		Viewer:  seller,
		Items:   []ledger.Listing{soldOut, flagged, canceled},
		Cancels: []ledger.Event{event(ledger.TopicCanceled, 3, seller, 4, "")},
	})
	require.Zero(t, count(rows, func(r FeedRow) bool { return r.Kind == RowListing }))
	require.Len(t, rowsFor(rows, 1), 2)
	require.Len(t, rowsFor(rows, 2), 1)
	require.Empty(t, rowsFor(rows, 3))
}

func TestBuildFeed_SaleDeliveryMatchesItemAndBuyer(t *testing.T) {
	rows := BuildFeed(Snapshot{
		Viewer: seller,
		Items:  []ledger.Listing{item(1, 5, 2), item(2, 5, 1)},
		Purchases: []ledger.Event{
			event(ledger.TopicPurchased, 1, alice, 10, ""),
			event(ledger.TopicPurchased, 1, bob, 11, ""),
			event(ledger.TopicPurchased, 2, alice, 12, ""),
		},
		Deliveries: []ledger.Event{
			event(ledger.TopicDelivered, 1, alice, 13, "k"),
		},
	})
	sales := make(map[string]FeedRow)
	for _, r := range rows {
		if r.Kind == RowSale {
			sales[r.Key] = r
		}
	}
	require.Len(t, sales, 3)
	for _, r := range sales {
		want := r.Listing.ID == 1 && r.Buyer == alice
		require.Equal(t, want, r.IsDelivered, r.Key)
		if want {
			require.Equal(t, StatusDelivered, r.Status)
		} else {
			require.Equal(t, StatusPendingKey, r.Status)
		}
	}
}

func TestBuildFeed_AcquisitionFollowsOwnershipRead(t *testing.T) {
	// No purchase or delivery events in the window: the ownership read alone
	// decides both rows.
	rows := BuildFeed(Snapshot{
		Viewer: alice,
		Items:  []ledger.Listing{item(1, 5, 1), item(2, 5, 1), item(3, 5, 0)},
		Ownership: map[uint64]ledger.Ownership{
			1: {Purchased: true, DeliveredKey: "abcd"},
			2: {Purchased: true},
		},
	})
	require.Len(t, rows, 2)

	byKey := map[string]FeedRow{}
	for _, r := range rows {
		require.Equal(t, RowAcquisition, r.Kind)
		require.Equal(t, alice, r.Buyer)
		byKey[r.Key] = r
	}
	require.True(t, byKey["1-buy"].IsDelivered)
	require.Equal(t, "abcd", byKey["1-buy"].DeliveredKey)
	require.Equal(t, StatusDelivered, byKey["1-buy"].Status)
	require.False(t, byKey["2-buy"].IsDelivered)
	require.Equal(t, StatusPendingKey, byKey["2-buy"].Status)
}

func TestBuildFeed_AcquisitionUsesViewerPurchaseTime(t *testing.T) {
	rows := BuildFeed(Snapshot{
		Viewer: alice,
		Items:  []ledger.Listing{item(1, 5, 2)},
		Purchases: []ledger.Event{
			event(ledger.TopicPurchased, 1, alice, 10, ""),
			event(ledger.TopicPurchased, 1, bob, 20, ""),
		},
		Ownership: map[uint64]ledger.Ownership{1: {Purchased: true}},
	})
	require.Len(t, rows, 1)
	require.Equal(t, t0.Add(10*time.Minute), rows[0].Timestamp)
	require.Equal(t, uint64(10), rows[0].Position.Block)
}

func TestBuildFeed_OtherSellersItemsProduceNoRows(t *testing.T) {
	rows := BuildFeed(Snapshot{
		Viewer:    bob,
		Items:     []ledger.Listing{item(1, 5, 3)},
		Purchases: []ledger.Event{event(ledger.TopicPurchased, 1, alice, 10, "")},
	})
	require.Empty(t, rows)

	require.Empty(t, BuildFeed(Snapshot{Items: []ledger.Listing{item(1, 5, 3)}}))
}

func TestSortRows(t *testing.T) {
	rows := []FeedRow{
		{Key: "a-old", Timestamp: t0},
		{Key: "b-low", Timestamp: t0.Add(time.Minute), Position: ledger.Position{Block: 5, Index: 1}},
		{Key: "c-high", Timestamp: t0.Add(time.Minute), Position: ledger.Position{Block: 5, Index: 2}},
		{Key: "e-tie", Timestamp: t0.Add(2 * time.Minute)},
		{Key: "d-tie", Timestamp: t0.Add(2 * time.Minute)},
	}
	SortRows(rows)
	var got []string
	for _, r := range rows {
		got = append(got, r.Key)
	}
	require.Equal(t, []string{"d-tie", "e-tie", "c-high", "b-low", "a-old"}, got)
}

func TestStates(t *testing.T) {
	snap := Snapshot{
		Viewer: seller,
		Items: []ledger.Listing{
			item(1, 5, 0), // listed
			item(2, 5, 1), // pending
			item(3, 1, 1), // delivered
			item(4, 5, 1), // canceled after a delivered sale
		},
		Purchases: []ledger.Event{
			event(ledger.TopicPurchased, 2, alice, 10, ""),
			event(ledger.TopicPurchased, 3, alice, 11, ""),
			event(ledger.TopicPurchased, 4, bob, 12, ""),
		},
		Deliveries: []ledger.Event{
			event(ledger.TopicDelivered, 3, alice, 13, "k"),
			event(ledger.TopicDelivered, 4, bob, 14, "k"),
		},
		Cancels: []ledger.Event{event(ledger.TopicCanceled, 4, seller, 15, "")},
	}
	rows := BuildFeed(snap)
	states := States(snap, rows)
	require.Equal(t, map[uint64]ItemState{
		1: StateListed,
		2: StateSoldPendingKey,
		3: StateDelivered,
		4: StateCanceled,
	}, states)

	// The delivered sale survives the cancellation.
	sale := rowsFor(rows, 4)
	require.Len(t, sale, 1)
	require.True(t, sale[0].IsDelivered)
}

func TestStates_CanceledBeforeAnySale(t *testing.T) {
	foreign := item(2, 5, 0)
	foreign.Seller = bob
	snap := Snapshot{
		Viewer: seller,
		Items:  []ledger.Listing{item(1, 5, 0), foreign},
		Cancels: []ledger.Event{
			event(ledger.TopicCanceled, 1, seller, 10, ""),
			event(ledger.TopicCanceled, 2, bob, 11, ""),
		},
	}
	rows := BuildFeed(snap)
	require.Empty(t, rows)
	require.Equal(t, map[uint64]ItemState{1: StateCanceled}, States(snap, rows))
}

func TestReputation(t *testing.T) {
	require.Equal(t, 60, Reputation(4, 1))
	require.Equal(t, 50, Reputation(0, 0))
	require.Equal(t, 0, Reputation(0, 6))
	require.Equal(t, 100, Reputation(11, 0))
}

func TestReputations(t *testing.T) {
	other := item(9, 5, 1)
	other.Seller = bob
	snap := Snapshot{
		Items: []ledger.Listing{item(1, 10, 4), item(2, 5, 0), other},
		Purchases: []ledger.Event{
			event(ledger.TopicPurchased, 1, alice, 1, ""),
			event(ledger.TopicPurchased, 1, alice, 2, ""),
			event(ledger.TopicPurchased, 1, bob, 3, ""),
			event(ledger.TopicPurchased, 1, bob, 4, ""),
			event(ledger.TopicPurchased, 9, alice, 5, ""),
		},
		Cancels: []ledger.Event{event(ledger.TopicCanceled, 2, seller, 6, "")},
	}
	scores := Reputations(snap)
	require.Equal(t, Score{Seller: seller, ConfirmedSales: 4, Cancellations: 1, Value: 60}, scores[seller])
	require.Equal(t, Score{Seller: bob, ConfirmedSales: 1, Value: 55}, scores[bob])
}

func TestWindow(t *testing.T) {
	cases := []struct {
		head, lookback, from uint64
	}{
		{head: 500000, lookback: 100000, from: 400000},
		{head: 50, lookback: 100000, from: 0},
		{head: 100000, lookback: 100000, from: 0},
		{head: 500000, lookback: 0, from: 0},
		{head: 0, lookback: 10, from: 0},
	}
	for _, tc := range cases {
		from, to := Window(tc.head, tc.lookback)
		require.Equal(t, tc.from, from, "head=%d lookback=%d", tc.head, tc.lookback)
		require.Equal(t, tc.head, to)
	}
}

func TestProjectionPendingBuyer(t *testing.T) {
	purchase := func(id uint64, buyer common.Address, block uint64) ledger.Event {
		return event(ledger.TopicPurchased, id, buyer, block, "")
	}
	p := &Projection{Rows: BuildFeed(Snapshot{
		Viewer: seller,
		Items:  []ledger.Listing{item(1, 5, 1), item(2, 5, 2), item(3, 5, 1), item(4, 5, 1)},
		Purchases: []ledger.Event{
			purchase(1, alice, 10),
			purchase(2, alice, 11),
			purchase(2, bob, 12),
			purchase(4, alice, 13),
		},
		Deliveries: []ledger.Event{event(ledger.TopicDelivered, 4, alice, 14, "k")},
		ObservedAt: t0,
	})}

	got, err := p.PendingBuyer(1)
	require.NoError(t, err)
	require.Equal(t, alice, got)

	_, err = p.PendingBuyer(2)
	require.ErrorIs(t, err, ErrAmbiguousBuyer, "two buyers waiting")
	_, err = p.PendingBuyer(3)
	require.ErrorIs(t, err, ErrAmbiguousBuyer, "sale still indexing")
	_, err = p.PendingBuyer(4)
	require.ErrorIs(t, err, ErrAmbiguousBuyer, "already delivered")
}
