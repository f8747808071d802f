// Package reconcile turns ledger state and a bounded window of event logs
// into a per-viewer feed of listings, sales and acquisitions.
//
// Item state read from the ledger is authoritative; event logs lag it. When
// an item's sold counter is ahead of the purchase events found in the
// window, the missing sales are synthesized as syncing rows with no known
// buyer, which an operator can resolve by supplying the buyer address to
// Deliver. Ownership reads are point-in-time contract calls and decide
// acquisition rows on their own.
//
// BuildFeed, States and Reputations are pure. Engine runs passes against a
// ledger.Reader and publishes each result as an immutable Projection.
package reconcile
