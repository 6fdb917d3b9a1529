package coordination

import "github.com/christopherjohns/guestsync/internal/guest"

// Outbound event names.
const (
	EventGuestUpdatedCompleted = "guestUpdatedCompleted"
	EventSelectionConflict     = "selectionConflict"
	EventSuccessGuest          = "successGuest"
	EventUpdateError           = "updateError"
	EventError                 = "error"
)

// User-facing messages.
const (
	MsgSelectionConflict = "This guest has already been selected by another user."
	MsgUpdateError       = "Failed to update the guest in the database."
	MsgInvalidRequest    = "A guest update needs idGuest and idGroup."
	MsgClaimUnavailable  = "The guest could not be claimed right now, try again."
	MsgShuttingDown      = "The server is shutting down."
)

// MessagePayload carries a human-readable message.
type MessagePayload struct {
	Message string `json:"message"`
}

// CompletedPayload is broadcast when a claim is accepted, and again with
// Released set when a failed persist rolls the claim back.
type CompletedPayload struct {
	Guest    guest.Update       `json:"guest"`
	IDs      guest.ClaimContext `json:"ids"`
	Released bool               `json:"released,omitempty"`
}

// SuccessPayload confirms a stored guest to the requester.
type SuccessPayload struct {
	Success string `json:"success"`
	User    string `json:"user"`
}

// Transport delivers events to connections and rooms.
type Transport interface {
	// Send delivers to a single connection. Unknown connections are ignored.
	Send(connID, event string, payload any)
	// Broadcast delivers to every connection in room.
	Broadcast(room, event string, payload any)
}
