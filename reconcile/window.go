package reconcile

// DefaultLookback is the number of recent blocks scanned for events.
const DefaultLookback uint64 = 100000

// Window returns the inclusive block range [from, head] to scan. A lookback
// of 0 scans from genesis; ranges reaching before genesis are clamped.
func Window(head, lookback uint64) (from, to uint64) {
	if lookback == 0 || lookback >= head {
		return 0, head
	}
	return head - lookback, head
}
