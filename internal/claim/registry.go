package claim

import (
	"context"
	"errors"
)

var (
	ErrEmptyGroup = errors.New("claim: group id is required")
	ErrEmptyGuest = errors.New("claim: guest id is required")
)

// Registry is the authority for which guests are claimed in each group.
type Registry interface {
	// IsClaimed reports whether guest is held in group.
	IsClaimed(ctx context.Context, group, guest string) (bool, error)

	// TryClaim atomically checks that guest is free in group and, if so,
	// marks it claimed. It returns true only for the caller that committed
	// the claim.
	TryClaim(ctx context.Context, group, guest string) (bool, error)

	// Claim marks guest claimed without checking. Claiming an already
	// claimed guest is a no-op.
	Claim(ctx context.Context, group, guest string) error

	// Release removes guest from group and reports whether it was held.
	Release(ctx context.Context, group, guest string) (bool, error)

	// Claimed returns the claimed guests of group, sorted.
	Claimed(ctx context.Context, group string) ([]string, error)

	// Dispose drops every claim in group.
	Dispose(ctx context.Context, group string) error
}

func validate(group, guest string) error {
	if group == "" {
		return ErrEmptyGroup
	}
	if guest == "" {
		return ErrEmptyGuest
	}
	return nil
}
