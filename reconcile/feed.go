package reconcile

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"xdao.co/paylock/fabric"
	"xdao.co/paylock/ledger"
)

type RowKind int

const (
	RowListing RowKind = iota
	RowSale
	RowAcquisition
)

func (k RowKind) String() string {
	switch k {
	case RowListing:
		return "listing"
	case RowSale:
		return "sale"
	case RowAcquisition:
		return "acquisition"
	default:
		return fmt.Sprintf("RowKind(%d)", int(k))
	}
}

type Status int

const (
	StatusActive Status = iota
	StatusIndexing
	StatusPendingKey
	StatusDelivered
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusIndexing:
		return "indexing"
	case StatusPendingKey:
		return "pending"
	case StatusDelivered:
		return "delivered"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// FeedRow is one line of a viewer's feed. Buyer is the zero address when
// unknown. DeliveredKey is only set on acquisition rows.
type FeedRow struct {
	Kind         RowKind
	Key          string
	Listing      ledger.Listing
	Buyer        common.Address
	Status       Status
	IsSyncing    bool
	IsDelivered  bool
	DeliveredKey string
	Timestamp    time.Time
	Position     ledger.Position
	Preview      *fabric.Metadata
}

// Snapshot is the input of one merge. Events are the logs found in the
// window; Ownership holds the viewer's ownership reads keyed by item id.
type Snapshot struct {
	Viewer     common.Address
	Items      []ledger.Listing
	Purchases  []ledger.Event
	Deliveries []ledger.Event
	Cancels    []ledger.Event
	Ownership  map[uint64]ledger.Ownership
	ObservedAt time.Time
}

type itemBuyer struct {
	item  uint64
	buyer common.Address
}

// BuildFeed merges s into feed rows sorted newest first.
func BuildFeed(s Snapshot) []FeedRow {
	purchases := make(map[uint64][]ledger.Event)
	for _, ev := range s.Purchases {
		purchases[ev.ItemID] = append(purchases[ev.ItemID], ev)
	}
	delivered := make(map[itemBuyer]bool, len(s.Deliveries))
	for _, ev := range s.Deliveries {
		delivered[itemBuyer{ev.ItemID, ev.Account}] = true
	}
	canceled := canceledItems(s.Cancels)

	var rows []FeedRow
	for _, it := range s.Items {
		sales := purchases[it.ID]

		if s.Viewer != (common.Address{}) && it.Seller == s.Viewer {
			for _, ev := range sales {
				row := FeedRow{
					Kind:      RowSale,
					Key:       fmt.Sprintf("%d-sale-%s-%d-%d", it.ID, strings.ToLower(ev.Account.Hex()), ev.Position.Block, ev.Position.Index),
					Listing:   it,
					Buyer:     ev.Account,
					Status:    StatusPendingKey,
					Timestamp: ev.Timestamp,
					Position:  ev.Position,
				}
				if delivered[itemBuyer{it.ID, ev.Account}] {
					row.IsDelivered = true
					row.Status = StatusDelivered
				}
				rows = append(rows, row)
			}

			if observed := uint64(len(sales)); it.SoldCount > observed {
				for i := uint64(0); i < it.SoldCount-observed; i++ {
					rows = append(rows, FeedRow{
						Kind:      RowSale,
						Key:       fmt.Sprintf("%d-sync-%d", it.ID, i),
						Listing:   it,
						Status:    StatusIndexing,
						IsSyncing: true,
						Timestamp: s.ObservedAt,
					})
				}
			}

			if it.SoldCount < it.MaxSupply && !it.SoldOut && !canceled[it.ID] {
				rows = append(rows, FeedRow{
					Kind:      RowListing,
					Key:       fmt.Sprintf("%d-listing", it.ID),
					Listing:   it,
					Status:    StatusActive,
					Timestamp: it.ListedAt,
				})
			}
		}

		if own := s.Ownership[it.ID]; own.Purchased {
			row := FeedRow{
				Kind:         RowAcquisition,
				Key:          fmt.Sprintf("%d-buy", it.ID),
				Listing:      it,
				Buyer:        s.Viewer,
				Status:       StatusPendingKey,
				IsDelivered:  len(own.DeliveredKey) > 0,
				DeliveredKey: own.DeliveredKey,
				Timestamp:    it.ListedAt,
			}
			if row.IsDelivered {
				row.Status = StatusDelivered
			}
			if ev, ok := latestBy(sales, s.Viewer); ok {
				row.Timestamp = ev.Timestamp
				row.Position = ev.Position
			}
			rows = append(rows, row)
		}
	}

	SortRows(rows)
	return rows
}

// SortRows orders rows by timestamp descending, then ledger position
// descending, then key.
func SortRows(rows []FeedRow) {
	slices.SortStableFunc(rows, func(a, b FeedRow) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		if c := b.Position.Compare(a.Position); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
}

func latestBy(events []ledger.Event, account common.Address) (ledger.Event, bool) {
	var (
		out   ledger.Event
		found bool
	)
	for _, ev := range events {
		if ev.Account != account {
			continue
		}
		if !found || ev.Position.Compare(out.Position) > 0 {
			out, found = ev, true
		}
	}
	return out, found
}

func canceledItems(cancels []ledger.Event) map[uint64]bool {
	out := make(map[uint64]bool, len(cancels))
	for _, ev := range cancels {
		out[ev.ItemID] = true
	}
	return out
}
