package reconcile

import "github.com/ethereum/go-ethereum/common"

const (
	reputationBase      = 50
	reputationPerSale   = 5
	reputationPerCancel = 10
)

// Reputation is clamp(50 + 5*sales - 10*cancellations, 0, 100).
//
// It is a display heuristic computed from the events in the window. The
// ledger does not record or enforce it.
func Reputation(confirmedSales, cancellations int) int {
	return max(0, min(100, reputationBase+reputationPerSale*confirmedSales-reputationPerCancel*cancellations))
}

type Score struct {
	Seller         common.Address
	ConfirmedSales int
	Cancellations  int
	Value          int
}

// Reputations scores every seller with an item in s. Sales are purchase
// events on the seller's items; cancellations are cancel events the seller
// emitted.
func Reputations(s Snapshot) map[common.Address]Score {
	sellerOf := make(map[uint64]common.Address, len(s.Items))
	out := make(map[common.Address]Score)
	for _, it := range s.Items {
		sellerOf[it.ID] = it.Seller
		out[it.Seller] = Score{Seller: it.Seller}
	}
	for _, ev := range s.Purchases {
		seller, ok := sellerOf[ev.ItemID]
		if !ok {
			continue
		}
		sc := out[seller]
		sc.ConfirmedSales++
		out[seller] = sc
	}
	for _, ev := range s.Cancels {
		sc := out[ev.Account]
		sc.Seller = ev.Account
		sc.Cancellations++
		out[ev.Account] = sc
	}
	for addr, sc := range out {
		sc.Value = Reputation(sc.ConfirmedSales, sc.Cancellations)
		out[addr] = sc
	}
	return out
}
