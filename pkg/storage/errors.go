package storage

import "errors"

// ErrNotFound is returned when a keyed lookup or update matches no row.
var ErrNotFound = errors.New("record not found")
