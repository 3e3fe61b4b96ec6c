package vectorstore

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidCollectionName indicates a collection name outside the
// cross-backend safe subset.
var ErrInvalidCollectionName = errors.New("invalid collection name")

// collectionNamePattern is the cross-backend safe subset: every supported
// backend accepts lowercase alphanumerics and underscores up to 64 chars.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName checks an already-derived name against the
// cross-backend pattern. Adapters call this before any remote operation.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidCollectionName, name, collectionNamePattern.String())
	}
	return nil
}
