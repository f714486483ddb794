// Package cluster coordinates processes that share one queue store.
//
// Worker pools need no coordination beyond the store's atomic reserve. The
// scheduler does: when several scheduler processes run against the same
// store, each tick first takes a named [Lease] so that only one of them
// fires recurring definitions. A lease expires after its TTL, so a crashed
// holder is replaced on a later tick.
package cluster
