// Package ledger defines the Ledger Client boundary and its data model.
//
// The ledger is authoritative but lags: reads of item state (ListItems,
// GetItem, CheckOwnership) are consistent with the chain head, while event
// logs may be incomplete for any given window. Consumers must not assume
// that the events for an item add up to its counters.
package ledger
