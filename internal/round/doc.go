// Package round implements the round lifecycle.
//
// At most one round is active at a time. While none is, new orders wait in
// a pending pool. After each sell order the pool is checked against the
// seller-count and share cutoffs, and when either is met a round opens and
// takes every pending order. The scheduler concludes the round at its end
// time: the round's orders are matched, matches are written and the round
// is flagged concluded in one transaction, then chat rooms are opened and
// participants notified.
//
// Conclusion is idempotent. A second call for a concluded round writes
// nothing, so the scheduler may deliver the same task more than once.
package round
