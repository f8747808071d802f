package reconcile

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ItemState is the lifecycle of a listing as one viewer sees it.
type ItemState int

const (
	StateListed ItemState = iota
	StateSoldPendingKey
	StateDelivered
	StateCanceled
)

func (s ItemState) String() string {
	switch s {
	case StateListed:
		return "LISTED"
	case StateSoldPendingKey:
		return "SOLD_PENDING_KEY"
	case StateDelivered:
		return "DELIVERED"
	case StateCanceled:
		return "CANCELED"
	default:
		return fmt.Sprintf("ItemState(%d)", int(s))
	}
}

// States derives the state of every item the viewer sells or has a row for.
// A seller's item with no rows left is still reported, so a cancel before
// any sale reads CANCELED.
//
// A cancel event closes the open slot and wins; sale rows of a canceled item
// stay in the feed with their own delivery status. Otherwise an undelivered
// sale or acquisition makes the item SOLD_PENDING_KEY, and an item whose
// sales are all delivered is DELIVERED.
func States(s Snapshot, rows []FeedRow) map[uint64]ItemState {
	canceled := canceledItems(s.Cancels)
	type tally struct{ sold, pending int }
	seen := make(map[uint64]*tally)
	if s.Viewer != (common.Address{}) {
		for _, it := range s.Items {
			if it.Seller == s.Viewer {
				seen[it.ID] = &tally{}
			}
		}
	}
	for _, r := range rows {
		t := seen[r.Listing.ID]
		if t == nil {
			t = &tally{}
			seen[r.Listing.ID] = t
		}
		if r.Kind == RowListing {
			continue
		}
		t.sold++
		if !r.IsDelivered {
			t.pending++
		}
	}

	out := make(map[uint64]ItemState, len(seen))
	for id, t := range seen {
		switch {
		case canceled[id]:
			out[id] = StateCanceled
		case t.pending > 0:
			out[id] = StateSoldPendingKey
		case t.sold > 0:
			out[id] = StateDelivered
		default:
			out[id] = StateListed
		}
	}
	return out
}
