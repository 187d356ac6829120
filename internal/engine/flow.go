package engine

// Credit arithmetic. Delivery counts are serial numbers that wrap at 2^32,
// so comparisons go through the signed difference.

// linkCredit returns the credit a sender holds after a flow carrying the
// receiver's delivery-count and link-credit: the deliveries the receiver
// allows past its count, minus those the sender has already sent past it.
// Deliveries still in flight can make that negative; credit stops at zero.
func linkCredit(remoteCount, remoteCredit, localCount uint32) uint32 {
	limit := remoteCount + remoteCredit
	if serialLess(limit, localCount) {
		return 0
	}
	return limit - localCount
}

// serialLess reports whether a comes before b in serial number order.
func serialLess(a, b uint32) bool {
	return int32(a-b) < 0
}

// belowHalf reports whether credit has dropped under half of window.
func belowHalf(credit, window uint32) bool {
	return uint64(credit)*2 < uint64(window)
}
