// Package guest defines the guest payloads exchanged with clients and the
// collaborator that durably stores them.
package guest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// idKey is the JSON field that carries the guest identity.
const idKey = "idGuest"

var ErrMissingID = errors.New("guest: idGuest is required")

// Update names exactly one guest plus whatever descriptive fields the client
// sent. Fields other than the id are carried through untouched.
type Update struct {
	ID     string
	Fields map[string]json.RawMessage
}

// UnmarshalJSON decodes an object, lifting idGuest into ID and keeping every
// field verbatim for re-encoding.
func (u *Update) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode guest: %w", err)
	}
	u.ID = ""
	if raw, ok := fields[idKey]; ok {
		id, err := decodeID(raw)
		if err != nil {
			return fmt.Errorf("decode idGuest: %w", err)
		}
		u.ID = id
	}
	u.Fields = fields
	return nil
}

// decodeID accepts a string, a number (kept in its literal form) or null.
func decodeID(raw json.RawMessage) (string, error) {
	var id any
	if err := json.Unmarshal(raw, &id); err != nil {
		return "", err
	}
	switch v := id.(type) {
	case string:
		return v, nil
	case float64:
		return string(bytes.TrimSpace(raw)), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported type %T", v)
	}
}

// MarshalJSON re-encodes the received fields, making sure idGuest is present.
func (u Update) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(u.Fields)+1)
	for k, v := range u.Fields {
		out[k] = v
	}
	if _, ok := out[idKey]; !ok && u.ID != "" {
		raw, err := json.Marshal(u.ID)
		if err != nil {
			return nil, err
		}
		out[idKey] = raw
	}
	return json.Marshal(out)
}

// Validate reports whether the update names a guest.
func (u Update) Validate() error {
	if u.ID == "" {
		return ErrMissingID
	}
	return nil
}

// ClaimContext travels with every claim request. It addresses the response
// and selects the room; it is not used for authorization.
type ClaimContext struct {
	GroupID string `json:"idGroup"`
	UserID  string `json:"idUser,omitempty"`
}

// UnmarshalJSON accepts string or numeric ids.
func (c *ClaimContext) UnmarshalJSON(data []byte) error {
	var raw struct {
		GroupID json.RawMessage `json:"idGroup"`
		UserID  json.RawMessage `json:"idUser"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode ids: %w", err)
	}
	*c = ClaimContext{}
	var err error
	if len(raw.GroupID) > 0 {
		if c.GroupID, err = decodeID(raw.GroupID); err != nil {
			return fmt.Errorf("decode idGroup: %w", err)
		}
	}
	if len(raw.UserID) > 0 {
		if c.UserID, err = decodeID(raw.UserID); err != nil {
			return fmt.Errorf("decode idUser: %w", err)
		}
	}
	return nil
}

// Persister durably stores a guest record.
type Persister interface {
	Store(ctx context.Context, u Update) error
}

// ClaimStorer is implemented by persisters that key records by group.
// The coordination service prefers it over Store when available.
type ClaimStorer interface {
	StoreClaim(ctx context.Context, u Update, ids ClaimContext) error
}

// PersisterFunc adapts a function to the Persister interface.
type PersisterFunc func(ctx context.Context, u Update) error

// Store calls f.
func (f PersisterFunc) Store(ctx context.Context, u Update) error {
	return f(ctx, u)
}
