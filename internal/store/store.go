// Package store holds the shared persistence sentinels and the
// persist-then-publish decorator; concrete ResultStore backends live in the
// subpackages.
package store

import "errors"

// ErrNotFound signals that the requested project does not exist.
var ErrNotFound = errors.New("project not found")
