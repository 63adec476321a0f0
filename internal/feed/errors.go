package feed

import "errors"

var (
	// ErrInvalidCursor is a client input error; callers should restart from an empty cursor.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrStorageUnavailable wraps read/write failures of the backing stores.
	ErrStorageUnavailable = errors.New("feed storage unavailable")
	// ErrConfigInvalid is returned at construction for out-of-range settings.
	ErrConfigInvalid = errors.New("invalid feed config")
)
