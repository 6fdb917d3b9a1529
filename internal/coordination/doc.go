// Package coordination arbitrates guest claims and reconciles them with the
// durable guest store.
//
// Each guestUpdated request moves through
//
//	Received -> Arbitrated{Accepted|Rejected} -> Broadcast -> Persisting -> {Reconciled|Failed}
//
// Arbitration is the registry's atomic TryClaim. A rejected request gets a
// selectionConflict reply on its own connection and nothing else. An accepted
// request is broadcast to the whole group room as guestUpdatedCompleted before
// the store is called, so every member sees the claim immediately. The store
// call runs on its own goroutine; success is reported only to the requester
// with successGuest, failure releases the claim, broadcasts a retraction and
// then broadcasts updateError to the room.
package coordination
