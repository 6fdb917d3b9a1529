// Package claim tracks which guests are already taken inside each group.
//
// A group is a collaboration room; a guest is an entry in that group that
// exactly one user may hold at a time. The [Registry] answers "is this guest
// free" and performs the arbitration step that decides who gets it.
//
// # Arbitration
//
// [Registry.TryClaim] checks and commits in one step. For a given group no two
// callers can both observe the guest as free: [MemoryRegistry] holds a
// per-group mutex across the check and the insert, and [RedisRegistry] relies
// on SADD reporting a new member to exactly one caller. Neither holds a lock
// beyond that step, so slow work done after a claim (persistence, broadcast)
// never blocks other guests in the same group.
//
// # Lifecycle
//
// Group sets are created lazily on the first claim and live until
// [Registry.Dispose] is called for the group. Claims are keyed by guest, not
// by connection, and survive the disconnect of the client that made them.
//
// # Basic Usage
//
//	reg := claim.NewMemoryRegistry()
//
//	ok, err := reg.TryClaim(ctx, "G1", "g7")  // ok == true, caller holds g7
//	ok, err = reg.TryClaim(ctx, "G1", "g7")   // ok == false, conflict
//
//	// Compensate after a failed persist.
//	_, err = reg.Release(ctx, "G1", "g7")
package claim
