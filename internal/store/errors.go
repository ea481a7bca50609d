package store

import "errors"

// ErrSessionNotFound indicates the referenced session is not in the store.
// Select and RemoveSession recover from it locally; Session and
// UpdateMessages return it so writers can notice a removed session.
var ErrSessionNotFound = errors.New("session not found")
