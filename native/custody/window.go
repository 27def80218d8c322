package custody

import "time"

// DefaultTransferWindow is the production length of the operator transfer
// window. Deployments shorten it through configuration for accelerated
// testing.
const DefaultTransferWindow = 24 * time.Hour

// InTransferWindow reports whether a deposit made at depositedAt is still
// operator-eligible at now. The bound is inclusive: at exactly
// depositedAt+window the deposit is still in the window. Operator transfers
// and user withdrawals split time at this instant with no gap and no overlap.
func InTransferWindow(depositedAt, now int64, window time.Duration) bool {
	return now <= depositedAt+int64(window/time.Second)
}
