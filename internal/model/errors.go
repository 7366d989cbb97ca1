package model

import "github.com/pkg/errors"

var (
	// ErrNotFound means the agent has no resolvable calendar source at all.
	// An empty calendar is not an error.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed windows, non-positive
	// durations or slot counts. It is raised before any store access.
	ErrInvalidInput = errors.New("invalid input")

	// ErrParseDegraded marks a calendar source that exists but could not be
	// read or parsed. The store absorbs it into an empty interval list; it
	// never reaches callers.
	ErrParseDegraded = errors.New("calendar parse degraded")
)
