package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/strata/internal/vectorstore"
)

// ErrInvalidCollectionName indicates a collection name that failed
// sanitization.
var ErrInvalidCollectionName = vectorstore.ErrInvalidCollectionName

const maxCollectionNameLen = 64

// CollectionName derives the backend collection name for a workspace and a
// record kind. Format: <workspace>_<kind>, lowercased, with characters
// outside [a-z0-9_] replaced by underscores. Names that would exceed the
// length limit are truncated and suffixed with an 8-char content hash so
// distinct long workspaces never collide.
func CollectionName(workspace, kind string) (string, error) {
	if workspace == "" {
		return "", fmt.Errorf("%w: workspace required", ErrInvalidCollectionName)
	}
	if kind == "" {
		return "", fmt.Errorf("%w: kind required", ErrInvalidCollectionName)
	}
	name := sanitizeNamePart(workspace) + "_" + sanitizeNamePart(kind)
	if len(name) > maxCollectionNameLen {
		sum := sha256.Sum256([]byte(name))
		suffix := "_" + hex.EncodeToString(sum[:])[:8]
		name = name[:maxCollectionNameLen-len(suffix)] + suffix
	}
	if err := vectorstore.ValidateCollectionName(name); err != nil {
		return "", err
	}
	return name, nil
}

func sanitizeNamePart(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
